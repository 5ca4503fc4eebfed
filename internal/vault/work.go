package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Work runs one purchase cycle: pull up to SpendAmount of the settlement
// asset from the owner (bounded by the owner's balance and the allowance
// granted to the vault), split it evenly across the registry and swap each
// share through the router. Proceeds go to the vault, or straight to the
// owner when auto-withdraw is on.
//
// Zero available funds or an empty registry is a deliberate no-op, not an
// error: nothing is pulled and no event fires.
//
// The integer-division remainder of the split is added to the first asset's
// share, so the full pulled amount is always spent.
//
// Swap failures are isolated per asset: one illiquid asset does not block the
// others. Completed swaps stand (each is an independent external call); the
// joined failures come back wrapped in ErrPartialPurchase, which also tells
// callers that settlement funds were pulled and must not be pulled again by a
// blind retry.
func (v *Vault) Work(ctx context.Context, caller common.Address) error {
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
	router := v.router
	toOwner := v.autoWithdraw
	v.mu.RUnlock()

	if len(assets) == 0 {
		v.log.Debugw("work: no assets registered")
		return nil
	}

	avail, err := v.availableFunds(ctx)
	if err != nil {
		return fmt.Errorf("work: %w", err)
	}
	if avail.Sign() == 0 {
		v.log.Debugw("work: no settlement funds available")
		return nil
	}

	// Pull first: the vault's settlement balance is final before any
	// external swap call goes out.
	if err := v.ledger.TransferFrom(ctx, v.settlement, v.owner, v.self, v.self, avail); err != nil {
		return fmt.Errorf("work: pull settlement funds: %w", err)
	}

	n := big.NewInt(int64(len(assets)))
	share := new(big.Int).Quo(avail, n)
	rem := new(big.Int).Rem(avail, n)

	recipient := v.self
	if toOwner {
		recipient = v.owner
	}

	var failures []error
	for i, a := range assets {
		amt := new(big.Int).Set(share)
		if i == 0 {
			amt.Add(amt, rem)
		}
		if amt.Sign() == 0 {
			continue
		}

		got, err := router.Swap(ctx, amt, v.settlement, a.Token, recipient)
		if err != nil {
			failures = append(failures, fmt.Errorf("work: swap %s: %w", a.Token.Hex(), err))
			v.log.Warnw("work: swap failed", "token", a.Token.Hex(), "amount_in", amt.String(), "error", err)
			continue
		}

		v.emitter.Emit(AssetPurchased{Meta: newMeta(), Token: a.Token, Spent: amt, Got: got})
		v.log.Infow("asset purchased",
			"token", a.Token.Hex(),
			"spent", amt.String(),
			"got", got.String(),
			"recipient", recipient.Hex(),
		)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %w", ErrPartialPurchase, errors.Join(failures...))
	}
	return nil
}

// availableFunds returns min(spend, owner balance, allowance to the vault)
// for the settlement asset.
func (v *Vault) availableFunds(ctx context.Context) (*big.Int, error) {
	bal, err := v.ledger.BalanceOf(ctx, v.settlement, v.owner)
	if err != nil {
		return nil, fmt.Errorf("owner settlement balance: %w", err)
	}
	allowed, err := v.ledger.Allowance(ctx, v.settlement, v.owner, v.self)
	if err != nil {
		return nil, fmt.Errorf("settlement allowance: %w", err)
	}

	avail := new(big.Int).Set(v.spend)
	if bal.Cmp(avail) < 0 {
		avail.Set(bal)
	}
	if allowed.Cmp(avail) < 0 {
		avail.Set(allowed)
	}
	return avail, nil
}
