// Package exchange defines the boundary to the external swap venue. The vault
// only ever sees this interface; the concrete adapter (Uniswap V2 router,
// in-memory mock) is swappable at runtime through the vault's UpdateRouter.
package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Exchange is the narrow venue interface. Every call crosses the trust
// boundary: adapters may fail, slip, or be front-run, and the vault treats
// them accordingly.
type Exchange interface {
	// Swap sells amountIn of assetIn for assetOut and credits the proceeds to
	// recipient. The funds sold are pulled from the account the adapter was
	// bound to at construction. Returns the amount of assetOut delivered.
	Swap(ctx context.Context, amountIn *big.Int, assetIn, assetOut, recipient common.Address) (*big.Int, error)

	// Probe is the cheap validity check used before an adapter is accepted as
	// the vault's router: a genuine venue answers, anything else errors.
	Probe(ctx context.Context) error

	// Address identifies the venue (the router contract for on-chain
	// adapters). Used in notifications and logs only.
	Address() common.Address
}
