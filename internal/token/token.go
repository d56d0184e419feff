// Package token abstracts the ERC20 surface the strategy engine needs: balance
// reads, transfers, and the allowance lifecycle that gates farm and router spends.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the asset-movement interface consumed by the engine. The in-memory
// Bank backs tests and sim mode; the ERC20 client backs live deployments.
type Ledger interface {
	// BalanceOf returns the balance of account for the given token
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)

	// Transfer moves amount of token from one account it controls to another
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount of token from owner to recipient on behalf of
	// spender, consuming spender's allowance
	TransferFrom(ctx context.Context, token, spender, owner, to common.Address, amount *big.Int) error

	// Approve sets spender's allowance over owner's token balance
	Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error

	// Allowance returns the remaining allowance granted by owner to spender
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}
