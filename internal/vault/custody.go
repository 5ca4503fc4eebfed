package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mortycrypto/dca-manager/internal/token"
)

// Withdraw transfers the vault's entire balance of tok to the owner. The
// zero address withdraws the native balance. A zero balance is a no-op, not
// an error.
func (v *Vault) Withdraw(ctx context.Context, caller, tok common.Address) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if _, err := v.sweepToOwner(ctx, tok); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

// WithdrawAmount transfers amount of tok to the owner. When amount exceeds
// the current balance the withdrawal clamps to the actual balance;
// AssetWithdrawalExceedsBalance fires whenever the delivered amount falls
// short of the request (a clamp, or a native transfer paying its own fee).
// A zero balance moves nothing.
func (v *Vault) WithdrawAmount(ctx context.Context, caller, tok common.Address, amount *big.Int) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("withdraw: invalid amount")
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	bal, err := v.ledger.BalanceOf(ctx, tok, v.self)
	if err != nil {
		return fmt.Errorf("withdraw: balance of %s: %w", tok.Hex(), err)
	}

	send := new(big.Int).Set(amount)
	if send.Cmp(bal) > 0 {
		send.Set(bal)
	}
	if send.Sign() == 0 {
		return nil
	}

	sent, err := v.ledger.Transfer(ctx, tok, v.self, v.owner, send)
	if err != nil {
		return fmt.Errorf("withdraw: transfer %s: %w", tok.Hex(), err)
	}
	if sent.Cmp(amount) < 0 {
		v.emitter.Emit(AssetWithdrawalExceedsBalance{
			Meta:      newMeta(),
			Token:     tok,
			Requested: new(big.Int).Set(amount),
			Withdrawn: sent,
		})
	}
	return nil
}

// WithdrawAll sweeps the full balance of every registered asset to the owner,
// then the native balance. Zero balances are skipped silently, so running it
// twice in a row emits nothing the second time.
func (v *Vault) WithdrawAll(ctx context.Context, caller common.Address) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	v.mu.RLock()
	assets := make([]Asset, len(v.assets))
	copy(assets, v.assets)
	v.mu.RUnlock()

	for _, a := range assets {
		if _, err := v.sweepToOwner(ctx, a.Token); err != nil {
			return fmt.Errorf("withdraw all: %w", err)
		}
	}
	if _, err := v.sweepToOwner(ctx, token.Native); err != nil {
		return fmt.Errorf("withdraw all: %w", err)
	}
	return nil
}

// LiquidateAsset swaps tok back into the settlement asset, proceeds to the
// owner. amount == 0 (or nil) liquidates the entire balance; a nonzero amount
// is passed through as-is, out-of-range values are the venue's error to
// report. The native placeholder is not a liquidation target. A zero balance
// to liquidate is a silent no-op.
func (v *Vault) LiquidateAsset(ctx context.Context, caller, tok common.Address, amount *big.Int) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if token.IsNative(tok) {
		return fmt.Errorf("liquidate %s: %w", tok.Hex(), ErrInvalidAsset)
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if _, err := v.liquidate(ctx, tok, amount); err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}
	return nil
}

// Panic is the emergency full unwind: every registered asset with a nonzero
// balance is liquidated into the settlement asset (proceeds to the owner) and
// the native balance is withdrawn. One PanicAtTheDisco marks the unwind no
// matter how many assets were touched. A swap failure aborts the whole call;
// swaps already executed stand.
func (v *Vault) Panic(ctx context.Context, caller common.Address) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	v.mu.RLock()
	assets := make([]Asset, len(v.assets))
	copy(assets, v.assets)
	v.mu.RUnlock()

	for _, a := range assets {
		if _, err := v.liquidate(ctx, a.Token, nil); err != nil {
			return fmt.Errorf("panic: %w", err)
		}
	}
	if _, err := v.sweepToOwner(ctx, token.Native); err != nil {
		return fmt.Errorf("panic: %w", err)
	}

	v.emitter.Emit(PanicAtTheDisco{Meta: newMeta()})
	v.log.Warnw("panic unwind executed", "assets", len(assets))
	return nil
}

// liquidate sells amount (entire balance when amount is nil or zero) of tok
// for the settlement asset through the router, crediting the owner. Returns
// the amount sold; zero means there was nothing to do.
func (v *Vault) liquidate(ctx context.Context, tok common.Address, amount *big.Int) (*big.Int, error) {
	sell := amount
	if sell == nil || sell.Sign() == 0 {
		bal, err := v.ledger.BalanceOf(ctx, tok, v.self)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", tok.Hex(), err)
		}
		sell = bal
	}
	if sell.Sign() == 0 {
		return big.NewInt(0), nil
	}

	v.mu.RLock()
	router := v.router
	v.mu.RUnlock()

	proceeds, err := router.Swap(ctx, sell, tok, v.settlement, v.owner)
	if err != nil {
		return nil, fmt.Errorf("swap %s: %w", tok.Hex(), err)
	}

	v.emitter.Emit(AssetLiquidated{Meta: newMeta(), Token: tok, Sold: sell, Proceeds: proceeds})
	v.log.Infow("asset liquidated", "token", tok.Hex(), "sold", sell.String(), "proceeds", proceeds.String())
	return sell, nil
}
