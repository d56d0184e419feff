// Package fees implements the harvest fee-split arithmetic.
package fees

import (
	"math/big"

	"github.com/yourorg/autocompounder/internal/model"
)

// Split is the result of applying a fee schedule to a harvested reward residual.
// The three named fees use floor division over model.MaxFee; rounding dust
// accrues to Compound, never to a fee recipient.
type Split struct {
	CallFee       *big.Int
	TreasuryFee   *big.Int
	StrategistFee *big.Int
	Compound      *big.Int
}

// Apply computes the fee split for rewardResidual under schedule. A zero
// residual yields an all-zero split; callers must skip the corresponding
// transfers since some collaborators reject zero-amount calls.
func Apply(rewardResidual *big.Int, schedule model.FeeSchedule) Split {
	if rewardResidual == nil || rewardResidual.Sign() <= 0 {
		return Split{
			CallFee:       new(big.Int),
			TreasuryFee:   new(big.Int),
			StrategistFee: new(big.Int),
			Compound:      new(big.Int),
		}
	}

	call := share(rewardResidual, schedule.CallFee)
	treasury := share(rewardResidual, schedule.TreasuryFee)
	strategist := share(rewardResidual, schedule.StrategistFee)

	compound := new(big.Int).Set(rewardResidual)
	compound.Sub(compound, call)
	compound.Sub(compound, treasury)
	compound.Sub(compound, strategist)

	return Split{
		CallFee:       call,
		TreasuryFee:   treasury,
		StrategistFee: strategist,
		Compound:      compound,
	}
}

// share returns amount * parts / MaxFee with truncating division.
func share(amount *big.Int, parts uint64) *big.Int {
	s := new(big.Int).Mul(amount, new(big.Int).SetUint64(parts))
	return s.Div(s, big.NewInt(model.MaxFee))
}

// WithdrawalFee returns the fee deducted from a withdrawal of amount, using
// truncating division over model.WithdrawalMax.
func WithdrawalFee(amount *big.Int, schedule model.FeeSchedule) *big.Int {
	if amount == nil || amount.Sign() <= 0 || schedule.WithdrawalFee == 0 {
		return new(big.Int)
	}
	f := new(big.Int).Mul(amount, new(big.Int).SetUint64(schedule.WithdrawalFee))
	return f.Div(f, big.NewInt(model.WithdrawalMax))
}
