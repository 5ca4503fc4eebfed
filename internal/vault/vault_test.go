package vault_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/mortycrypto/dca-manager/internal/exchange"
	"github.com/mortycrypto/dca-manager/internal/token"
	"github.com/mortycrypto/dca-manager/internal/vault"
)

var (
	owner     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	stranger  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	vaultAcct = common.HexToAddress("0x3000000000000000000000000000000000000003")
	routerAdr = common.HexToAddress("0x4000000000000000000000000000000000000004")
	usdc      = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	tok1      = common.HexToAddress("0xbbbb000000000000000000000000000000000001")
	tok2      = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

type fixture struct {
	ledger *token.MemLedger
	router *exchange.MockRouter
	rec    *vault.Recorder
	vault  *vault.Vault
}

// newFixture builds a vault over an in-memory ledger: spend 20 of usdc per
// cycle, tok1 registered, the router funded with plenty of output liquidity
// and the owner holding 1000 usdc.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := token.NewMemLedger()
	router := exchange.NewMockRouter(ledger, routerAdr, vaultAcct)
	rec := &vault.Recorder{}

	v, err := vault.New(vault.Config{
		Owner:           owner,
		Self:            vaultAcct,
		Router:          router,
		SettlementAsset: usdc,
		SpendAmount:     big.NewInt(20),
		Assets:          []common.Address{tok1},
		Ledger:          ledger,
		Emitter:         rec,
	})
	require.NoError(t, err)

	ledger.Mint(tok1, routerAdr, big.NewInt(1_000_000))
	ledger.Mint(tok2, routerAdr, big.NewInt(1_000_000))
	ledger.Mint(usdc, owner, big.NewInt(1000))

	return &fixture{ledger: ledger, router: router, rec: rec, vault: v}
}

func (f *fixture) balance(t *testing.T, tok, acct common.Address) *big.Int {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), tok, acct)
	require.NoError(t, err)
	return bal
}

func TestNewValidation(t *testing.T) {
	ledger := token.NewMemLedger()
	router := exchange.NewMockRouter(ledger, routerAdr, vaultAcct)

	base := vault.Config{
		Owner:           owner,
		Self:            vaultAcct,
		Router:          router,
		SettlementAsset: usdc,
		SpendAmount:     big.NewInt(20),
		Ledger:          ledger,
	}

	tests := []struct {
		name   string
		mutate func(*vault.Config)
		want   error
	}{
		{"zero owner", func(c *vault.Config) { c.Owner = common.Address{} }, vault.ErrZeroAddress},
		{"zero settlement", func(c *vault.Config) { c.SettlementAsset = common.Address{} }, vault.ErrZeroAddress},
		{"nil router", func(c *vault.Config) { c.Router = nil }, vault.ErrZeroAddress},
		{"zero initial asset", func(c *vault.Config) { c.Assets = []common.Address{{}} }, vault.ErrZeroAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := vault.New(cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base
		cfg.Assets = []common.Address{tok1}
		v, err := vault.New(cfg)
		require.NoError(t, err)
		require.Equal(t, owner, v.Owner())
		require.Equal(t, 1, v.AssetsLength())
	})
}

func TestOnlyOwnerMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := []struct {
		name string
		call func() error
	}{
		{"AddAsset", func() error { return f.vault.AddAsset(stranger, tok2) }},
		{"RemoveAsset", func() error { return f.vault.RemoveAsset(ctx, stranger, 0, false) }},
		{"UpdateRouter", func() error {
			return f.vault.UpdateRouter(ctx, stranger, exchange.NewMockRouter(f.ledger, routerAdr, vaultAcct))
		}},
		{"UpdateAutoWithdraw", func() error { return f.vault.UpdateAutoWithdraw(stranger, true) }},
		{"Work", func() error { return f.vault.Work(ctx, stranger) }},
		{"Withdraw", func() error { return f.vault.Withdraw(ctx, stranger, tok1) }},
		{"WithdrawAmount", func() error { return f.vault.WithdrawAmount(ctx, stranger, tok1, big.NewInt(1)) }},
		{"WithdrawAll", func() error { return f.vault.WithdrawAll(ctx, stranger) }},
		{"LiquidateAsset", func() error { return f.vault.LiquidateAsset(ctx, stranger, tok1, big.NewInt(0)) }},
		{"Panic", func() error { return f.vault.Panic(ctx, stranger) }},
	}

	for _, tc := range calls {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.call(), vault.ErrUnauthorized)
		})
	}

	// nothing changed and nothing fired
	require.Equal(t, 1, f.vault.AssetsLength())
	require.False(t, f.vault.AutoWithdraw())
	require.Empty(t, f.rec.Events())
	require.Equal(t, int64(1000), f.balance(t, usdc, owner).Int64())
}

func TestRegistryAddAndQuery(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, 1, f.vault.AssetsLength())

	require.NoError(t, f.vault.AddAsset(owner, tok2))
	require.Equal(t, 2, f.vault.AssetsLength())

	info, err := f.vault.AssetInfo(0)
	require.NoError(t, err)
	require.Equal(t, tok1, info.Token)

	info, err = f.vault.AssetInfo(1)
	require.NoError(t, err)
	require.Equal(t, tok2, info.Token)

	_, err = f.vault.AssetInfo(2)
	require.ErrorIs(t, err, vault.ErrIndexOutOfRange)
	_, err = f.vault.AssetInfo(-1)
	require.ErrorIs(t, err, vault.ErrIndexOutOfRange)
}

func TestRegistryRejectsZeroAddress(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.vault.AddAsset(owner, common.Address{}), vault.ErrZeroAddress)
	require.Equal(t, 1, f.vault.AssetsLength())
}

func TestRemoveAssetSwapAndPop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok3 := common.HexToAddress("0xbbbb000000000000000000000000000000000003")
	require.NoError(t, f.vault.AddAsset(owner, tok2))
	require.NoError(t, f.vault.AddAsset(owner, tok3))

	// removing the head moves the tail into slot 0
	require.NoError(t, f.vault.RemoveAsset(ctx, owner, 0, false))
	require.Equal(t, 2, f.vault.AssetsLength())

	info, err := f.vault.AssetInfo(0)
	require.NoError(t, err)
	require.Equal(t, tok3, info.Token)
	info, err = f.vault.AssetInfo(1)
	require.NoError(t, err)
	require.Equal(t, tok2, info.Token)

	require.ErrorIs(t, f.vault.RemoveAsset(ctx, owner, 2, false), vault.ErrIndexOutOfRange)
}

func TestRemoveAssetWithdrawFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(tok1, vaultAcct, big.NewInt(10))

	require.ErrorIs(t, f.vault.RemoveAsset(ctx, owner, 99, true), vault.ErrIndexOutOfRange)

	require.NoError(t, f.vault.RemoveAsset(ctx, owner, 0, true))
	require.Equal(t, 0, f.vault.AssetsLength())
	require.Equal(t, int64(0), f.balance(t, tok1, vaultAcct).Int64())
	require.Equal(t, int64(10), f.balance(t, tok1, owner).Int64())

	evs := f.rec.Named("AssetWithdrawn")
	require.Len(t, evs, 1)
	ev := evs[0].(vault.AssetWithdrawn)
	require.Equal(t, tok1, ev.Token)
	require.Equal(t, int64(10), ev.Amount.Int64())

	// zero balance: removal proceeds, nothing transfers, no event
	require.NoError(t, f.vault.AddAsset(owner, tok1))
	f.rec.Reset()
	require.NoError(t, f.vault.RemoveAsset(ctx, owner, 0, true))
	require.Empty(t, f.rec.Events())
}

func TestUpdateRouter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := common.HexToAddress("0x4000000000000000000000000000000000000005")
	next := exchange.NewMockRouter(f.ledger, other, vaultAcct)

	require.NoError(t, f.vault.UpdateRouter(ctx, owner, next))
	require.Equal(t, other, f.vault.Router().Address())

	evs := f.rec.Named("RouterUpdated")
	require.Len(t, evs, 1)
	ev := evs[0].(vault.RouterUpdated)
	require.Equal(t, routerAdr, ev.Old)
	require.Equal(t, other, ev.New)
}

func TestUpdateRouterRejectsNil(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.vault.UpdateRouter(context.Background(), owner, nil), vault.ErrZeroAddress)
	require.Equal(t, routerAdr, f.vault.Router().Address())
}

func TestUpdateRouterProbesCandidate(t *testing.T) {
	f := newFixture(t)

	broken := exchange.NewMockRouter(f.ledger, common.HexToAddress("0xdead"), vaultAcct)
	broken.Broken = true

	err := f.vault.UpdateRouter(context.Background(), owner, broken)
	require.ErrorIs(t, err, vault.ErrInvalidExchange)
	require.Equal(t, routerAdr, f.vault.Router().Address())
	require.Empty(t, f.rec.Named("RouterUpdated"))
}

func TestUpdateAutoWithdrawIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.vault.UpdateAutoWithdraw(owner, true))
	require.True(t, f.vault.AutoWithdraw())
	require.Len(t, f.rec.Named("AutoWithdrawUpdated"), 1)

	// same value again: silent no-op
	require.NoError(t, f.vault.UpdateAutoWithdraw(owner, true))
	require.Len(t, f.rec.Named("AutoWithdrawUpdated"), 1)

	require.NoError(t, f.vault.UpdateAutoWithdraw(owner, false))
	require.Len(t, f.rec.Named("AutoWithdrawUpdated"), 2)
}

func TestAdapterCannotReenter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Approve(usdc, owner, vaultAcct, big.NewInt(20))

	var reentryErr error
	f.router.OnSwap(func(ctx context.Context) {
		reentryErr = f.vault.Withdraw(ctx, owner, tok1)
	})

	require.NoError(t, f.vault.Work(ctx, owner))
	require.ErrorIs(t, reentryErr, vault.ErrVaultBusy)
}

func TestNativeDeposits(t *testing.T) {
	// anyone can send native funds to the vault account; only the owner can
	// pull them back out
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(token.Native, stranger, big.NewInt(5))
	_, err := f.ledger.Transfer(ctx, token.Native, stranger, vaultAcct, big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, int64(5), f.balance(t, token.Native, vaultAcct).Int64())

	require.ErrorIs(t, f.vault.Withdraw(ctx, stranger, token.Native), vault.ErrUnauthorized)
	require.Equal(t, int64(5), f.balance(t, token.Native, vaultAcct).Int64())

	require.NoError(t, f.vault.Withdraw(ctx, owner, token.Native))
	require.Equal(t, int64(0), f.balance(t, token.Native, vaultAcct).Int64())
	require.Equal(t, int64(5), f.balance(t, token.Native, owner).Int64())
}

func TestBusyVaultFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Approve(usdc, owner, vaultAcct, big.NewInt(20))

	var concurrent error
	f.router.OnSwap(func(ctx context.Context) {
		concurrent = f.vault.UpdateAutoWithdraw(owner, true)
	})

	require.NoError(t, f.vault.Work(ctx, owner))
	require.True(t, errors.Is(concurrent, vault.ErrVaultBusy))
	require.False(t, f.vault.AutoWithdraw())
}
