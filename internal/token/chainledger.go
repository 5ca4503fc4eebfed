package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mortycrypto/dca-manager/internal/contracts/bindings/erc20"
)

// ChainLedger reads and moves balances on a live EVM chain through the
// vault's own key. Mutating calls wait for the transaction to mine so that a
// custody operation only returns once its effect is observable on chain.
//
// The ledger can only sign for its own account: Transfer and TransferFrom
// reject a `from`/`spender` other than the key's address.
type ChainLedger struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	account common.Address
	chainID *big.Int
}

func NewChainLedger(ctx context.Context, client *ethclient.Client, key *ecdsa.PrivateKey) (*ChainLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("token: nil eth client")
	}
	if key == nil {
		return nil, fmt.Errorf("token: nil signing key")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: chain id: %w", err)
	}
	return &ChainLedger{
		client:  client,
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Account returns the address the ledger signs for.
func (l *ChainLedger) Account() common.Address { return l.account }

// Backend exposes the underlying client for bound contracts (the exchange
// adapter shares it).
func (l *ChainLedger) Backend() *ethclient.Client { return l.client }

// TransactOpts builds mining-synchronous transact options for the key.
func (l *ChainLedger) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("token: transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (l *ChainLedger) BalanceOf(ctx context.Context, tok, account common.Address) (*big.Int, error) {
	if IsNative(tok) {
		bal, err := l.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, fmt.Errorf("token: native balance: %w", err)
		}
		return bal, nil
	}

	t, err := erc20.New(tok, l.client)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(&bind.CallOpts{Context: ctx}, account)
}

func (l *ChainLedger) Allowance(ctx context.Context, tok, owner, spender common.Address) (*big.Int, error) {
	if IsNative(tok) {
		return nil, fmt.Errorf("token: native transfers have no allowance mechanism")
	}
	t, err := erc20.New(tok, l.client)
	if err != nil {
		return nil, err
	}
	return t.Allowance(&bind.CallOpts{Context: ctx}, owner, spender)
}

func (l *ChainLedger) Transfer(ctx context.Context, tok, from, to common.Address, amount *big.Int) (*big.Int, error) {
	if from != l.account {
		return nil, fmt.Errorf("token: cannot sign for %s (ledger key is %s)", from.Hex(), l.account.Hex())
	}
	if IsNative(tok) {
		return l.transferNative(ctx, to, amount)
	}

	t, err := erc20.New(tok, l.client)
	if err != nil {
		return nil, err
	}
	opts, err := l.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := t.Transfer(opts, to, amount)
	if err != nil {
		return nil, fmt.Errorf("token: transfer %s: %w", tok.Hex(), err)
	}
	if err := l.waitMined(ctx, tx); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (l *ChainLedger) TransferFrom(ctx context.Context, tok, owner, spender, dst common.Address, amount *big.Int) error {
	if IsNative(tok) {
		return fmt.Errorf("token: native transfers have no allowance mechanism")
	}
	if spender != l.account {
		return fmt.Errorf("token: cannot sign for %s (ledger key is %s)", spender.Hex(), l.account.Hex())
	}

	t, err := erc20.New(tok, l.client)
	if err != nil {
		return err
	}
	opts, err := l.TransactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := t.TransferFrom(opts, owner, dst, amount)
	if err != nil {
		return fmt.Errorf("token: transferFrom %s: %w", tok.Hex(), err)
	}
	return l.waitMined(ctx, tx)
}

// Approve grants spender an allowance over tok held by the ledger's account.
// The exchange adapter uses it before routing a swap.
func (l *ChainLedger) Approve(ctx context.Context, tok, spender common.Address, amount *big.Int) error {
	t, err := erc20.New(tok, l.client)
	if err != nil {
		return err
	}
	opts, err := l.TransactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := t.Approve(opts, spender, amount)
	if err != nil {
		return fmt.Errorf("token: approve %s: %w", tok.Hex(), err)
	}
	return l.waitMined(ctx, tx)
}

func (l *ChainLedger) transferNative(ctx context.Context, to common.Address, amount *big.Int) (*big.Int, error) {
	nonce, err := l.client.PendingNonceAt(ctx, l.account)
	if err != nil {
		return nil, fmt.Errorf("token: pending nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: gas price: %w", err)
	}

	// A full-balance sweep cannot also pay its own gas; shave the fee off.
	// The shaved amount is what the recipient actually gets, so it is also
	// the return value.
	fee := new(big.Int).Mul(gasPrice, big.NewInt(21_000))
	bal, err := l.client.BalanceAt(ctx, l.account, nil)
	if err != nil {
		return nil, fmt.Errorf("token: native balance: %w", err)
	}
	if new(big.Int).Add(amount, fee).Cmp(bal) > 0 {
		amount = new(big.Int).Sub(bal, fee)
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("token: native balance %s cannot cover gas", bal)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      21_000,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("token: sign native transfer: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("token: send native transfer: %w", err)
	}
	if err := l.waitMined(ctx, signed); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

func (l *ChainLedger) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("token: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("token: tx %s reverted", tx.Hash().Hex())
	}
	return nil
}
