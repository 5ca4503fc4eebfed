// Package univ2 binds the slice of the Uniswap V2 router interface the
// exchange adapter uses: WETH() as the validity probe, getAmountsOut for
// quoting and swapExactTokensForTokens for execution.
package univ2

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const abiJSON = `[
 {"constant":true,"inputs":[],"name":"WETH","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
 {"constant":false,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

// Router wraps a deployed V2-style router (Uniswap, QuickSwap, ...).
type Router struct {
	addr     common.Address
	contract *bind.BoundContract
}

func New(addr common.Address, backend bind.ContractBackend) (*Router, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("univ2: parse abi: %w", err)
	}
	return &Router{
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

func (r *Router) Address() common.Address { return r.addr }

// WETH returns the router's wrapped-native token. Doubles as the capability
// probe: an arbitrary address cannot answer it.
func (r *Router) WETH(opts *bind.CallOpts) (common.Address, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "WETH"); err != nil {
		return common.Address{}, fmt.Errorf("univ2: WETH: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (r *Router) GetAmountsOut(opts *bind.CallOpts, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, fmt.Errorf("univ2: getAmountsOut: %w", err)
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (r *Router) SwapExactTokensForTokens(opts *bind.TransactOpts, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) (*types.Transaction, error) {
	return r.contract.Transact(opts, "swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}
