package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	tokA  = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	carol = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestMintAndBalance(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	bal, err := l.BalanceOf(ctx, tokA, alice)
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Int64())

	l.Mint(tokA, alice, big.NewInt(100))
	l.Mint(tokA, alice, big.NewInt(50))

	bal, err = l.BalanceOf(ctx, tokA, alice)
	require.NoError(t, err)
	require.Equal(t, int64(150), bal.Int64())
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.Mint(tokA, alice, big.NewInt(10))
	_, err := l.Transfer(ctx, tokA, alice, bob, big.NewInt(11))
	require.Error(t, err)

	// nothing moved
	bal, _ := l.BalanceOf(ctx, tokA, alice)
	require.Equal(t, int64(10), bal.Int64())
	bal, _ = l.BalanceOf(ctx, tokA, bob)
	require.Equal(t, int64(0), bal.Int64())
}

func TestTransferNativeBalances(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.Mint(Native, alice, big.NewInt(5))
	moved, err := l.Transfer(ctx, Native, alice, bob, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), moved.Int64())

	bal, _ := l.BalanceOf(ctx, Native, bob)
	require.Equal(t, int64(3), bal.Int64())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.Mint(tokA, alice, big.NewInt(100))
	l.Approve(tokA, alice, bob, big.NewInt(60))

	require.NoError(t, l.TransferFrom(ctx, tokA, alice, bob, carol, big.NewInt(40)))

	left, err := l.Allowance(ctx, tokA, alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(20), left.Int64())

	bal, _ := l.BalanceOf(ctx, tokA, carol)
	require.Equal(t, int64(40), bal.Int64())

	// the rest of the allowance does not cover this
	require.Error(t, l.TransferFrom(ctx, tokA, alice, bob, carol, big.NewInt(30)))
}

func TestTransferFromNativeRejected(t *testing.T) {
	l := NewMemLedger()
	l.Mint(Native, alice, big.NewInt(10))
	require.Error(t, l.TransferFrom(context.Background(), Native, alice, bob, carol, big.NewInt(1)))
}

func TestBalanceSnapshotIsACopy(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.Mint(tokA, alice, big.NewInt(10))
	bal, _ := l.BalanceOf(ctx, tokA, alice)
	bal.SetInt64(999)

	again, _ := l.BalanceOf(ctx, tokA, alice)
	require.Equal(t, int64(10), again.Int64())
}
