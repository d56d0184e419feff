package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/autocompounder/internal/model"
)

// Bank is a deterministic in-memory Ledger. It mirrors ERC20 semantics closely
// enough that allowance revocation under pause is observable in tests: a
// TransferFrom without sufficient allowance fails the same way an on-chain
// spend would.
type Bank struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int // token -> account -> balance
	allowances map[allowanceKey]*big.Int
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// NewBank creates an empty in-memory ledger.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits account with amount of token. Test and sim setup only.
func (b *Bank) Mint(token, account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, account, amount)
}

// BalanceOf returns the balance of account for token.
func (b *Bank) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(token, account)), nil
}

// Transfer moves amount of token from one account to another.
func (b *Bank) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token, from, to, amount)
}

// TransferFrom moves amount of token from owner to recipient on behalf of
// spender, consuming spender's allowance.
func (b *Bank) TransferFrom(_ context.Context, token, spender, owner, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := allowanceKey{token, owner, spender}
	allowed, ok := b.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient allowance for %s spending %s of %s",
			spender.Hex(), amount, token.Hex())
	}
	if err := b.move(token, owner, to, amount); err != nil {
		return err
	}
	// An unlimited grant is never decremented, matching common ERC20 behavior.
	if allowed.Cmp(model.MaxUint256) < 0 {
		b.allowances[key] = new(big.Int).Sub(allowed, amount)
	}
	return nil
}

// Approve sets spender's allowance over owner's token balance.
func (b *Bank) Approve(_ context.Context, token, owner, spender common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining allowance granted by owner to spender.
func (b *Bank) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (b *Bank) balance(token, account common.Address) *big.Int {
	accounts, ok := b.balances[token]
	if !ok {
		return new(big.Int)
	}
	if bal, ok := accounts[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (b *Bank) credit(token, account common.Address, amount *big.Int) {
	accounts, ok := b.balances[token]
	if !ok {
		accounts = make(map[common.Address]*big.Int)
		b.balances[token] = accounts
	}
	cur, ok := accounts[account]
	if !ok {
		cur = new(big.Int)
	}
	accounts[account] = new(big.Int).Add(cur, amount)
}

func (b *Bank) move(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	bal := b.balance(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance: %s has %s of %s, moving %s",
			from.Hex(), bal, token.Hex(), amount)
	}
	b.balances[token][from] = new(big.Int).Sub(bal, amount)
	b.credit(token, to, amount)
	return nil
}
