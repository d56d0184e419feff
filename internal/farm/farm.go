// Package farm defines the external yield-farm interface a strategy stakes into,
// plus one concrete adapter per target protocol.
package farm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter is the capability interface every farm integration implements. The
// harvest engine depends only on this interface; the concrete variant is
// selected at construction.
type Adapter interface {
	// Address is the identity of the farm as a token spender
	Address() common.Address

	// Deposit stakes amount of the pool's asset on behalf of the given account
	Deposit(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error

	// Withdraw unstakes amount back to the given account
	Withdraw(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error

	// HarvestRewards claims all pending reward tokens to recipient. Failures
	// must be surfaced, never swallowed.
	HarvestRewards(ctx context.Context, poolID uint64, recipient common.Address) error

	// StakedBalance reports the account's staked principal
	StakedBalance(ctx context.Context, poolID uint64, who common.Address) (*big.Int, error)

	// PendingRewards estimates the account's unclaimed rewards. The estimate
	// may be approximate and the call may fail; read paths degrade to zero.
	PendingRewards(ctx context.Context, poolID uint64, who common.Address) (*big.Int, error)

	// EmergencyWithdraw returns the full principal, forfeiting pending
	// rewards. Used only on panic and retire.
	EmergencyWithdraw(ctx context.Context, poolID uint64, who common.Address) error
}
