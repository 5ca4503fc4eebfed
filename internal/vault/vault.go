// Package vault implements the treasury state machine: a single-owner
// custodial vault that periodically converts a settlement asset into a basket
// of registered assets and gives the owner full custody controls over the
// result (withdrawal, liquidation, emergency unwind).
//
// The vault holds no balances itself; all value lives on a token.Ledger and
// every conversion goes through an exchange.Exchange adapter. Vault state is
// just configuration: owner, settlement asset, per-cycle spend, router,
// auto-withdraw flag and the asset registry.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mortycrypto/dca-manager/internal/exchange"
	"github.com/mortycrypto/dca-manager/internal/token"
)

// Asset is one registry entry. Indices are assigned by insertion order and
// are NOT stable across removals: RemoveAsset uses swap-and-pop, so the last
// entry moves into the vacated slot.
type Asset struct {
	Token common.Address
}

// Vault is the custodial aggregate. All mutating methods take the caller's
// identity and fail closed with ErrUnauthorized unless caller == owner.
//
// Mutating operations are serialized by a busy flag rather than a blocking
// lock: a second mutating call while one is in flight (a concurrent caller,
// or the exchange adapter re-entering) fails fast with ErrVaultBusy and no
// state change. Read-only queries never block behind an in-flight operation.
type Vault struct {
	owner      common.Address
	self       common.Address // the vault's own account on the ledger
	settlement common.Address
	spend      *big.Int

	ledger token.Ledger

	busy atomic.Bool

	mu           sync.RWMutex // guards router, autoWithdraw, assets
	router       exchange.Exchange
	autoWithdraw bool
	assets       []Asset

	emitter Emitter
	log     *zap.SugaredLogger
}

// Config carries the constructor parameters. Self is the ledger account the
// vault custodies funds under; it is distinct from Owner, who funds the
// purchase cycle and receives withdrawals.
type Config struct {
	Owner           common.Address
	Self            common.Address
	Router          exchange.Exchange
	SettlementAsset common.Address
	SpendAmount     *big.Int
	Assets          []common.Address

	Ledger  token.Ledger
	Emitter Emitter
	Log     *zap.SugaredLogger
}

// New validates cfg and builds the vault. The initial asset list goes through
// the same zero-address check as AddAsset.
func New(cfg Config) (*Vault, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("owner: %w", ErrZeroAddress)
	}
	if cfg.Self == (common.Address{}) {
		return nil, fmt.Errorf("vault account: %w", ErrZeroAddress)
	}
	if cfg.SettlementAsset == (common.Address{}) {
		return nil, fmt.Errorf("settlement asset: %w", ErrZeroAddress)
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("router: %w", ErrZeroAddress)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("vault: nil ledger")
	}
	if cfg.SpendAmount == nil || cfg.SpendAmount.Sign() <= 0 {
		return nil, fmt.Errorf("vault: spend amount must be positive")
	}

	v := &Vault{
		owner:      cfg.Owner,
		self:       cfg.Self,
		settlement: cfg.SettlementAsset,
		spend:      new(big.Int).Set(cfg.SpendAmount),
		ledger:     cfg.Ledger,
		router:     cfg.Router,
		emitter:    cfg.Emitter,
		log:        cfg.Log,
	}
	if v.emitter == nil {
		v.emitter = MultiEmitter(nil) // no-op
	}
	if v.log == nil {
		v.log = zap.NewNop().Sugar()
	}

	for _, tok := range cfg.Assets {
		if tok == (common.Address{}) {
			return nil, fmt.Errorf("initial asset: %w", ErrZeroAddress)
		}
		v.assets = append(v.assets, Asset{Token: tok})
	}
	return v, nil
}

// authorize is the single-owner guard every mutating entry point runs first.
func (v *Vault) authorize(caller common.Address) error {
	if caller != v.owner {
		return ErrUnauthorized
	}
	return nil
}

// acquire takes the busy flag; release must be deferred on success.
func (v *Vault) acquire() error {
	if !v.busy.CompareAndSwap(false, true) {
		return ErrVaultBusy
	}
	return nil
}

func (v *Vault) release() { v.busy.Store(false) }

// Owner returns the controlling principal.
func (v *Vault) Owner() common.Address { return v.owner }

// Account returns the ledger account the vault custodies funds under.
func (v *Vault) Account() common.Address { return v.self }

// SettlementAsset returns the asset spent each purchase cycle.
func (v *Vault) SettlementAsset() common.Address { return v.settlement }

// SpendAmount returns the per-cycle budget. Fixed at construction.
func (v *Vault) SpendAmount() *big.Int { return new(big.Int).Set(v.spend) }

// Router returns the current exchange adapter.
func (v *Vault) Router() exchange.Exchange {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.router
}

// AutoWithdraw reports whether purchase proceeds go straight to the owner.
func (v *Vault) AutoWithdraw() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.autoWithdraw
}

// AssetsLength returns the registry size. Unauthenticated.
func (v *Vault) AssetsLength() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.assets)
}

// AssetInfo returns the registry entry at index. Unauthenticated.
func (v *Vault) AssetInfo(index int) (Asset, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if index < 0 || index >= len(v.assets) {
		return Asset{}, fmt.Errorf("asset %d of %d: %w", index, len(v.assets), ErrIndexOutOfRange)
	}
	return v.assets[index], nil
}

// Assets returns a copy of the registry in index order. Unauthenticated.
func (v *Vault) Assets() []Asset {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Asset, len(v.assets))
	copy(out, v.assets)
	return out
}

// AddAsset appends tok to the registry. Duplicates are not rejected; adding
// the same token twice just makes the work cycle buy it twice.
func (v *Vault) AddAsset(caller, tok common.Address) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if tok == (common.Address{}) {
		return fmt.Errorf("add asset: %w", ErrZeroAddress)
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	v.mu.Lock()
	v.assets = append(v.assets, Asset{Token: tok})
	n := len(v.assets)
	v.mu.Unlock()

	v.log.Debugw("asset added", "token", tok.Hex(), "assets", n)
	return nil
}

// RemoveAsset drops the entry at index by swap-and-pop: the last entry moves
// into the slot and the registry shortens by one. Callers must not assume
// index stability across removals.
//
// With withdrawFirst set, the vault's entire balance of the removed token is
// transferred to the owner before the slot is vacated; a zero balance moves
// nothing and emits nothing, but the removal still happens.
func (v *Vault) RemoveAsset(ctx context.Context, caller common.Address, index int, withdrawFirst bool) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	v.mu.Lock()
	if index < 0 || index >= len(v.assets) {
		n := len(v.assets)
		v.mu.Unlock()
		return fmt.Errorf("remove asset %d of %d: %w", index, n, ErrIndexOutOfRange)
	}
	tok := v.assets[index].Token
	v.mu.Unlock()

	if withdrawFirst {
		if _, err := v.sweepToOwner(ctx, tok); err != nil {
			return fmt.Errorf("remove asset: %w", err)
		}
	}

	v.mu.Lock()
	last := len(v.assets) - 1
	v.assets[index] = v.assets[last]
	v.assets = v.assets[:last]
	v.mu.Unlock()

	v.log.Debugw("asset removed", "token", tok.Hex(), "index", index)
	return nil
}

// UpdateRouter swaps the exchange adapter after probing the candidate. An
// adapter that cannot answer the probe is rejected with ErrInvalidExchange.
func (v *Vault) UpdateRouter(ctx context.Context, caller common.Address, candidate exchange.Exchange) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if candidate == nil || candidate.Address() == (common.Address{}) {
		return fmt.Errorf("update router: %w", ErrZeroAddress)
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	if err := candidate.Probe(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidExchange, candidate.Address().Hex(), err)
	}

	v.mu.Lock()
	old := v.router.Address()
	v.router = candidate
	v.mu.Unlock()

	v.emitter.Emit(RouterUpdated{Meta: newMeta(), Old: old, New: candidate.Address()})
	v.log.Infow("router updated", "old", old.Hex(), "new", candidate.Address().Hex())
	return nil
}

// UpdateAutoWithdraw toggles proceeds routing. Setting the current value is a
// silent no-op: no event, no state change.
func (v *Vault) UpdateAutoWithdraw(caller common.Address, enabled bool) error {
	if err := v.authorize(caller); err != nil {
		return err
	}
	if err := v.acquire(); err != nil {
		return err
	}
	defer v.release()

	v.mu.Lock()
	changed := v.autoWithdraw != enabled
	v.autoWithdraw = enabled
	v.mu.Unlock()

	if changed {
		v.emitter.Emit(AutoWithdrawUpdated{Meta: newMeta(), Enabled: enabled})
	}
	return nil
}

// sweepToOwner transfers the vault's entire balance of tok (native when tok
// is the zero address) to the owner and emits AssetWithdrawn for nonzero
// amounts. The event carries what the ledger actually delivered, which for a
// native sweep can be less than the balance (the transfer fee comes out of
// it). Returns the delivered amount.
func (v *Vault) sweepToOwner(ctx context.Context, tok common.Address) (*big.Int, error) {
	bal, err := v.ledger.BalanceOf(ctx, tok, v.self)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", tok.Hex(), err)
	}
	if bal.Sign() == 0 {
		return bal, nil
	}
	sent, err := v.ledger.Transfer(ctx, tok, v.self, v.owner, bal)
	if err != nil {
		return nil, fmt.Errorf("transfer %s to owner: %w", tok.Hex(), err)
	}
	v.emitter.Emit(AssetWithdrawn{Meta: newMeta(), Token: tok, Amount: sent})
	return sent, nil
}
