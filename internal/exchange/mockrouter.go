package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mortycrypto/dca-manager/internal/token"
)

// MockRouter is an in-memory venue over a MemLedger. It swaps at a fixed 1:1
// rate out of its own liquidity: fund it with Mint, and every swap pulls the
// input from the bound payer and pays the output from the router's own
// balance.
type MockRouter struct {
	ledger *token.MemLedger
	addr   common.Address
	payer  common.Address

	// Broken makes Probe fail, for exercising router validation.
	Broken bool

	// reenter, when set, is invoked in the middle of Swap. Lets tests drive
	// an adversarial adapter back into the vault.
	reenter func(ctx context.Context)
}

func NewMockRouter(ledger *token.MemLedger, addr, payer common.Address) *MockRouter {
	return &MockRouter{ledger: ledger, addr: addr, payer: payer}
}

// OnSwap registers a callback fired during every Swap, before the output
// transfer. Test hook for reentrancy scenarios.
func (r *MockRouter) OnSwap(fn func(ctx context.Context)) { r.reenter = fn }

func (r *MockRouter) Address() common.Address { return r.addr }

func (r *MockRouter) Probe(_ context.Context) error {
	if r.Broken {
		return fmt.Errorf("exchange: mock router marked broken")
	}
	return nil
}

func (r *MockRouter) Swap(ctx context.Context, amountIn *big.Int, assetIn, assetOut, recipient common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("exchange: nothing to swap")
	}

	if _, err := r.ledger.Transfer(ctx, assetIn, r.payer, r.addr, amountIn); err != nil {
		return nil, fmt.Errorf("exchange: pull input: %w", err)
	}

	if r.reenter != nil {
		r.reenter(ctx)
	}

	// 1:1 rate; the router must hold enough output liquidity.
	out := new(big.Int).Set(amountIn)
	if _, err := r.ledger.Transfer(ctx, assetOut, r.addr, recipient, out); err != nil {
		return nil, fmt.Errorf("exchange: pay output: %w", err)
	}
	return out, nil
}
