package vault

import "errors"

// Failure taxonomy. Operations wrap these with context; callers branch with
// errors.Is.
var (
	// ErrUnauthorized: a mutating operation was attempted by someone other
	// than the owner. Nothing was changed.
	ErrUnauthorized = errors.New("vault: caller is not the owner")

	// ErrZeroAddress: the zero address was supplied where a real token or
	// router is required.
	ErrZeroAddress = errors.New("vault: zero address")

	// ErrIndexOutOfRange: asset index is not in [0, AssetsLength).
	ErrIndexOutOfRange = errors.New("vault: asset index out of range")

	// ErrInvalidExchange: the candidate router failed the validity probe.
	ErrInvalidExchange = errors.New("vault: not a valid exchange")

	// ErrInvalidAsset: the native placeholder cannot be liquidated.
	ErrInvalidAsset = errors.New("vault: cannot liquidate the native asset")

	// ErrVaultBusy: another mutating operation is in flight, either from a
	// concurrent caller or from the exchange adapter re-entering the vault.
	ErrVaultBusy = errors.New("vault: operation already in progress")

	// ErrPartialPurchase: a work cycle pulled settlement funds but one or
	// more swaps failed. The unswapped funds stay in the vault; rerunning the
	// cycle pulls fresh funds on top of them.
	ErrPartialPurchase = errors.New("vault: purchase cycle partially failed")
)
