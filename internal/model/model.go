// Package model defines the core data structures shared across the strategy engine.
package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Fee schedule granularity and caps. Harvest fee shares are expressed in parts
// per MaxFee, the withdrawal fee in parts per WithdrawalMax.
const (
	MaxFee           = 1000
	MaxCallFee       = 111
	WithdrawalMax    = 10000
	WithdrawalFeeCap = 50
)

// MaxUint256 is the unlimited allowance amount granted to farm and router spenders.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Route is an ordered list of assets describing a chain of swaps from a source
// asset to a destination asset. Routes are fixed at construction time.
type Route []common.Address

// Validate checks that the route starts at from and ends at to.
func (r Route) Validate(from, to common.Address) error {
	if len(r) < 2 {
		return fmt.Errorf("route too short: %d hops", len(r))
	}
	if r[0] != from {
		return fmt.Errorf("route starts at %s, want %s", r[0].Hex(), from.Hex())
	}
	if r[len(r)-1] != to {
		return fmt.Errorf("route ends at %s, want %s", r[len(r)-1].Hex(), to.Hex())
	}
	return nil
}

// FeeSchedule holds the named harvest fee shares and the withdrawal fee rate.
type FeeSchedule struct {
	// CallFee is the harvest caller's share, parts per MaxFee
	CallFee uint64 `json:"call_fee" yaml:"call"`

	// TreasuryFee is the protocol treasury's share, parts per MaxFee
	TreasuryFee uint64 `json:"treasury_fee" yaml:"treasury"`

	// StrategistFee is the strategist's share, parts per MaxFee
	StrategistFee uint64 `json:"strategist_fee" yaml:"strategist"`

	// WithdrawalFee is charged on non-privileged withdrawals, parts per WithdrawalMax
	WithdrawalFee uint64 `json:"withdrawal_fee" yaml:"withdrawal"`
}

// Validate enforces the configured caps. Violations are construction-time
// errors so a misconfigured strategy never deploys.
func (f FeeSchedule) Validate() error {
	if f.CallFee > MaxCallFee {
		return fmt.Errorf("call fee %d exceeds cap %d", f.CallFee, MaxCallFee)
	}
	if total := f.CallFee + f.TreasuryFee + f.StrategistFee; total > MaxFee {
		return fmt.Errorf("fee shares sum to %d, exceeding %d", total, MaxFee)
	}
	if f.WithdrawalFee > WithdrawalFeeCap {
		return fmt.Errorf("withdrawal fee %d exceeds cap %d", f.WithdrawalFee, WithdrawalFeeCap)
	}
	return nil
}

// Role identifies the privilege level required for a gated operation.
type Role string

// Roles recognized by the engine's access checks
const (
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleStrategist Role = "strategist"
	RoleVault      Role = "vault"
)

// EventKind classifies audit events emitted by a strategy.
type EventKind string

// Audit event kinds
const (
	EventHarvest  EventKind = "harvest"
	EventDeposit  EventKind = "deposit"
	EventWithdraw EventKind = "withdraw"
	EventPanic    EventKind = "panic"
	EventRetire   EventKind = "retire"
)

// Event is a single audit record consumed by off-chain monitoring: the
// recorder, the webhook exporter, and the Prometheus layer all receive it.
type Event struct {
	// Strategy is the configured strategy name
	Strategy string `json:"strategy"`

	// Kind classifies the event
	Kind EventKind `json:"kind"`

	// Caller is the identity that triggered the operation
	Caller common.Address `json:"caller"`

	// WantGained is the want gained this harvest cycle; nil for non-harvest events
	WantGained *big.Int `json:"want_gained,omitempty"`

	// Amount is the amount moved for deposit/withdraw events; nil otherwise
	Amount *big.Int `json:"amount,omitempty"`

	// TotalControlled is the strategy-controlled value after the operation
	TotalControlled *big.Int `json:"total_controlled"`

	// Timestamp is the Unix timestamp when the event was emitted
	Timestamp int64 `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(strategy string, kind EventKind, caller common.Address, total *big.Int) Event {
	return Event{
		Strategy:        strategy,
		Kind:            kind,
		Caller:          caller,
		TotalControlled: total,
		Timestamp:       time.Now().Unix(),
	}
}

// Sink receives audit events. Implementations must not block the harvest path;
// slow delivery belongs behind a buffer.
type Sink interface {
	Record(e Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(e Event)

// Record calls f(e).
func (f SinkFunc) Record(e Event) { f(e) }
