// Package erc20 is a minimal binding for the standard ERC20 surface the
// ledger needs: balanceOf, allowance, transfer, transferFrom, approve.
package erc20

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
 {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
 {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
 {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// ERC20 wraps one token contract.
type ERC20 struct {
	addr     common.Address
	contract *bind.BoundContract
}

func New(addr common.Address, backend bind.ContractBackend) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("erc20: parse abi: %w", err)
	}
	return &ERC20{
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

func (t *ERC20) Address() common.Address { return t.addr }

func (t *ERC20) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("erc20: balanceOf: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (t *ERC20) Allowance(opts *bind.CallOpts, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("erc20: allowance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (t *ERC20) Transfer(opts *bind.TransactOpts, to common.Address, amount *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "transfer", to, amount)
}

func (t *ERC20) TransferFrom(opts *bind.TransactOpts, from, to common.Address, amount *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "transferFrom", from, to, amount)
}

func (t *ERC20) Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "approve", spender, amount)
}
