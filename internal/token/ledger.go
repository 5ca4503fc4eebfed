// Package token abstracts the balance substrate the vault operates on: ERC20
// balances and allowances plus the native base-currency balance of each
// account. The vault never keeps its own copy of a balance; the Ledger is the
// single source of truth.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Native is the placeholder identifier for the chain's base currency. It is
// never a valid ERC20 address: passing it to balance or transfer operations
// routes to the native-balance path instead.
var Native = common.Address{}

// IsNative reports whether tok denotes the native base currency.
func IsNative(tok common.Address) bool {
	return tok == Native
}

// Ledger is the narrow view of the asset substrate the vault needs.
//
// Transfer moves funds the `from` account already holds; TransferFrom spends
// an allowance `owner` granted to `spender`. Implementations decide which
// accounts they can actually move funds for (a chain-backed ledger can only
// sign for its own key).
type Ledger interface {
	// BalanceOf returns the balance of account for tok. If tok is Native the
	// native balance is returned.
	BalanceOf(ctx context.Context, tok, account common.Address) (*big.Int, error)

	// Allowance returns what owner has approved spender to pull of tok.
	Allowance(ctx context.Context, tok, owner, spender common.Address) (*big.Int, error)

	// Transfer moves amount of tok from one account to another and returns
	// the amount actually moved. If tok is Native the native balance is
	// moved, and an implementation that funds transaction fees from the same
	// balance may move less than requested.
	Transfer(ctx context.Context, tok, from, to common.Address, amount *big.Int) (*big.Int, error)

	// TransferFrom pulls amount of tok from owner to dst, spending the
	// allowance owner granted to spender. Native transfers have no allowance
	// mechanism and are rejected.
	TransferFrom(ctx context.Context, tok, owner, spender, dst common.Address, amount *big.Int) error
}
