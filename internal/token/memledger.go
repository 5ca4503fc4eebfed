package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemLedger is an in-memory Ledger used by tests and the local dry-run mode.
// It behaves like a set of ERC20 tokens plus native balances: transfers fail
// on insufficient funds, TransferFrom additionally consumes allowance.
type MemLedger struct {
	mu sync.Mutex

	// balances[token][account]; Native keys the native balances.
	balances map[common.Address]map[common.Address]*big.Int

	// allowances[token][owner][spender]
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances:   map[common.Address]map[common.Address]*big.Int{},
		allowances: map[common.Address]map[common.Address]map[common.Address]*big.Int{},
	}
}

// Mint credits amount of tok to account out of thin air. Test setup helper.
func (l *MemLedger) Mint(tok, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(tok, account, amount)
}

// Approve sets (not increases) the allowance owner grants spender over tok.
func (l *MemLedger) Approve(tok, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[tok] == nil {
		l.allowances[tok] = map[common.Address]map[common.Address]*big.Int{}
	}
	if l.allowances[tok][owner] == nil {
		l.allowances[tok][owner] = map[common.Address]*big.Int{}
	}
	l.allowances[tok][owner][spender] = new(big.Int).Set(amount)
}

func (l *MemLedger) BalanceOf(_ context.Context, tok, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(tok, account)), nil
}

func (l *MemLedger) Allowance(_ context.Context, tok, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(tok, owner, spender)), nil
}

func (l *MemLedger) Transfer(_ context.Context, tok, from, to common.Address, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.move(tok, from, to, amount); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (l *MemLedger) TransferFrom(_ context.Context, tok, owner, spender, dst common.Address, amount *big.Int) error {
	if IsNative(tok) {
		return fmt.Errorf("token: native transfers have no allowance mechanism")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(tok, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("token: transferFrom %s: allowance %s < amount %s", tok.Hex(), allowed, amount)
	}
	if err := l.move(tok, owner, dst, amount); err != nil {
		return err
	}
	l.allowances[tok][owner][spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

// callers hold l.mu for everything below.

func (l *MemLedger) balance(tok, account common.Address) *big.Int {
	if byAcct := l.balances[tok]; byAcct != nil {
		if b := byAcct[account]; b != nil {
			return b
		}
	}
	return big.NewInt(0)
}

func (l *MemLedger) allowance(tok, owner, spender common.Address) *big.Int {
	if byOwner := l.allowances[tok]; byOwner != nil {
		if bySpender := byOwner[owner]; bySpender != nil {
			if a := bySpender[spender]; a != nil {
				return a
			}
		}
	}
	return big.NewInt(0)
}

func (l *MemLedger) credit(tok, account common.Address, amount *big.Int) {
	if l.balances[tok] == nil {
		l.balances[tok] = map[common.Address]*big.Int{}
	}
	l.balances[tok][account] = new(big.Int).Add(l.balance(tok, account), amount)
}

func (l *MemLedger) move(tok, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative amount %s", amount)
	}
	have := l.balance(tok, from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s: balance %s < amount %s", tok.Hex(), have, amount)
	}
	l.balances[tok][from] = new(big.Int).Sub(have, amount)
	l.credit(tok, to, amount)
	return nil
}
