package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/mortycrypto/dca-manager/internal/contracts/bindings/univ2"
	"github.com/mortycrypto/dca-manager/internal/token"
)

// UniV2Options tunes the on-chain adapter.
type UniV2Options struct {
	// SlippageBps caps how far below the quoted output a fill may land.
	// 100 = 1%. Zero means accept any output.
	SlippageBps int64

	// Deadline is how long a submitted swap stays valid. Defaults to 2
	// minutes.
	Deadline time.Duration
}

// UniV2 routes swaps through a Uniswap-V2-compatible router such as
// QuickSwap. It is bound to a ChainLedger: input funds are pulled
// from the ledger's account, which approves the router per swap.
type UniV2 struct {
	router *univ2.Router
	ledger *token.ChainLedger
	addr   common.Address
	opts   UniV2Options
}

func NewUniV2(addr common.Address, ledger *token.ChainLedger, opts UniV2Options) (*UniV2, error) {
	if ledger == nil {
		return nil, fmt.Errorf("exchange: nil ledger")
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 2 * time.Minute
	}
	r, err := univ2.New(addr, ledger.Backend())
	if err != nil {
		return nil, err
	}
	return &UniV2{router: r, ledger: ledger, addr: addr, opts: opts}, nil
}

func (x *UniV2) Address() common.Address { return x.addr }

// Probe asks the router for its wrapped-native token. Anything that is not a
// V2-style router fails here.
func (x *UniV2) Probe(ctx context.Context) error {
	if _, err := x.router.WETH(&bind.CallOpts{Context: ctx}); err != nil {
		return fmt.Errorf("exchange: router probe: %w", err)
	}
	return nil
}

func (x *UniV2) Swap(ctx context.Context, amountIn *big.Int, assetIn, assetOut, recipient common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("exchange: nothing to swap")
	}

	path := []common.Address{assetIn, assetOut}

	minOut := big.NewInt(0)
	if x.opts.SlippageBps > 0 {
		quote, err := x.router.GetAmountsOut(&bind.CallOpts{Context: ctx}, amountIn, path)
		if err != nil {
			return nil, fmt.Errorf("exchange: quote: %w", err)
		}
		expected := quote[len(quote)-1]
		minOut = new(big.Int).Mul(expected, big.NewInt(10_000-x.opts.SlippageBps))
		minOut.Quo(minOut, big.NewInt(10_000))
	}

	if err := x.ledger.Approve(ctx, assetIn, x.addr, amountIn); err != nil {
		return nil, fmt.Errorf("exchange: approve router: %w", err)
	}

	topts, err := x.ledger.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	deadline := big.NewInt(time.Now().Add(x.opts.Deadline).Unix())

	before, err := x.ledger.BalanceOf(ctx, assetOut, recipient)
	if err != nil {
		return nil, fmt.Errorf("exchange: recipient balance: %w", err)
	}

	tx, err := x.router.SwapExactTokensForTokens(topts, amountIn, minOut, path, recipient, deadline)
	if err != nil {
		return nil, fmt.Errorf("exchange: swap: %w", err)
	}
	if err := x.waitMined(ctx, tx); err != nil {
		return nil, err
	}

	after, err := x.ledger.BalanceOf(ctx, assetOut, recipient)
	if err != nil {
		return nil, fmt.Errorf("exchange: recipient balance: %w", err)
	}
	return new(big.Int).Sub(after, before), nil
}

func (x *UniV2) waitMined(ctx context.Context, tx *gethtypes.Transaction) error {
	receipt, err := bind.WaitMined(ctx, x.ledger.Backend(), tx)
	if err != nil {
		return fmt.Errorf("exchange: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("exchange: swap tx %s reverted", tx.Hash().Hex())
	}
	return nil
}
