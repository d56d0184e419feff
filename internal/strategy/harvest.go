package strategy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/autocompounder/internal/fees"
	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/otel"
)

// minSwapOut is the floor passed on compounding swaps: rounding dust is
// accepted, a zero-output swap is not. Router deadline and slippage remain the
// only other protection on this path.
var minSwapOut = big.NewInt(1)

// Harvest runs one full harvest cycle with caller as the call-fee recipient.
// Open to anyone; pause gating follows the configured policy.
func (s *Strategy) Harvest(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return ErrRetired
	}
	if s.paused && !s.cfg.HarvestWhilePaused {
		return ErrPaused
	}
	return s.harvestCycle(ctx, caller, caller)
}

// HarvestFor runs a harvest crediting the call fee to an explicit recipient.
// Restricted to the manager so fee redirection cannot be griefed.
func (s *Strategy) HarvestFor(ctx context.Context, caller, feeRecipient common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if s.paused && !s.cfg.HarvestWhilePaused {
		return ErrPaused
	}
	return s.harvestCycle(ctx, caller, feeRecipient)
}

// harvestCycle is the engine's state machine: claim, convert, split fees,
// compound, redeposit. Every step is a commit point; any external failure
// aborts the cycle and the caller retries later. Lock must be held.
func (s *Strategy) harvestCycle(ctx context.Context, caller, feeRecipient common.Address) error {
	ctx, span := otel.Tracer().Start(ctx, "harvest",
		trace.WithAttributes(attribute.String("strategy", s.cfg.Name)))
	defer span.End()

	idleBefore, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read idle balance: %w", err)
	}

	if err := s.farm.HarvestRewards(ctx, s.cfg.PoolID, s.cfg.Self); err != nil {
		span.RecordError(err)
		return fmt.Errorf("claim rewards: %w", err)
	}

	rewardBal, err := s.taxableBalance(ctx, s.cfg.Reward, idleBefore)
	if err != nil {
		return fmt.Errorf("read reward balance: %w", err)
	}
	feeBal := new(big.Int)
	if s.cfg.FeeToken != s.cfg.Reward {
		if feeBal, err = s.taxableBalance(ctx, s.cfg.FeeToken, idleBefore); err != nil {
			return fmt.Errorf("read fee-token balance: %w", err)
		}
	}

	// Harvesting an empty farm is a safe no-op: no event, no fee, no
	// timestamp advance.
	if rewardBal.Sign() == 0 && feeBal.Sign() == 0 {
		s.log.Debug("harvest found nothing to claim")
		return nil
	}

	if s.cfg.FeeToken != s.cfg.Reward && rewardBal.Sign() > 0 {
		if _, err := s.router.SwapExactIn(ctx, s.cfg.Self, rewardBal, s.cfg.RewardToFeeRoute, minSwapOut, s.deadline()); err != nil {
			span.RecordError(err)
			return fmt.Errorf("convert reward to fee asset: %w", err)
		}
	}

	residual, err := s.taxableBalance(ctx, s.cfg.FeeToken, idleBefore)
	if err != nil {
		return fmt.Errorf("read fee-token balance: %w", err)
	}

	split := fees.Apply(residual, s.cfg.Schedule)
	if err := s.payFees(ctx, split, feeRecipient); err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.compound(ctx, split.Compound); err != nil {
		span.RecordError(err)
		return err
	}

	idleAfter, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read idle balance: %w", err)
	}
	gained := new(big.Int).Sub(idleAfter, idleBefore)

	if err := s.depositIdle(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	s.lastHarvest = time.Now()
	total := s.TotalControlled(ctx)
	ev := model.NewEvent(s.cfg.Name, model.EventHarvest, caller, total)
	ev.WantGained = gained
	s.emit(ev)

	s.log.WithFields(logrus.Fields{
		"caller":      caller.Hex(),
		"want_gained": gained,
		"total":       total,
		"call_fee":    split.CallFee,
	}).Info("harvest complete")
	return nil
}

// taxableBalance reads the strategy's balance of tok. When tok is the want
// asset itself the idle principal held before the claim is excluded, so only
// newly claimed yield ever carries fees. The withdrawal-fee remainder a
// withdraw leaves unstaked must survive a harvest intact.
func (s *Strategy) taxableBalance(ctx context.Context, tok common.Address, idleBefore *big.Int) (*big.Int, error) {
	bal, err := s.ledger.BalanceOf(ctx, tok, s.cfg.Self)
	if err != nil {
		return nil, err
	}
	if tok == s.cfg.Want {
		bal = new(big.Int).Sub(bal, idleBefore)
		if bal.Sign() < 0 {
			bal.SetInt64(0)
		}
	}
	return bal, nil
}

// payFees transfers the named fee shares, skipping zero amounts since some
// tokens reject zero-value transfers.
func (s *Strategy) payFees(ctx context.Context, split fees.Split, feeRecipient common.Address) error {
	if split.CallFee.Sign() > 0 {
		if err := s.ledger.Transfer(ctx, s.cfg.FeeToken, s.cfg.Self, feeRecipient, split.CallFee); err != nil {
			return fmt.Errorf("pay call fee: %w", err)
		}
	}
	if split.TreasuryFee.Sign() > 0 {
		if err := s.ledger.Transfer(ctx, s.cfg.FeeToken, s.cfg.Self, s.cfg.Treasury, split.TreasuryFee); err != nil {
			return fmt.Errorf("pay treasury fee: %w", err)
		}
	}
	if split.StrategistFee.Sign() > 0 {
		if err := s.ledger.Transfer(ctx, s.cfg.FeeToken, s.cfg.Self, s.cfg.Strategist, split.StrategistFee); err != nil {
			return fmt.Errorf("pay strategist fee: %w", err)
		}
	}
	return nil
}

// compound converts the post-fee residual into want. For LP strategies the
// residual is split roughly in half, each half routed into one leg, and both
// legs supplied with a minimum of one unit each: rounding dust is preferred
// over reverting on cosmetic slippage.
func (s *Strategy) compound(ctx context.Context, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if !s.cfg.IsLP() {
		if s.cfg.FeeToken == s.cfg.Want {
			return nil
		}
		if _, err := s.router.SwapExactIn(ctx, s.cfg.Self, amount, s.cfg.FeeToWantRoute, minSwapOut, s.deadline()); err != nil {
			return fmt.Errorf("convert to want: %w", err)
		}
		return nil
	}

	half := new(big.Int).Rsh(amount, 1)
	rest := new(big.Int).Sub(amount, half)
	if s.cfg.FeeToken != s.cfg.Leg0 && half.Sign() > 0 {
		if _, err := s.router.SwapExactIn(ctx, s.cfg.Self, half, s.cfg.FeeToLeg0Route, minSwapOut, s.deadline()); err != nil {
			return fmt.Errorf("convert to leg0: %w", err)
		}
	}
	if s.cfg.FeeToken != s.cfg.Leg1 && rest.Sign() > 0 {
		if _, err := s.router.SwapExactIn(ctx, s.cfg.Self, rest, s.cfg.FeeToLeg1Route, minSwapOut, s.deadline()); err != nil {
			return fmt.Errorf("convert to leg1: %w", err)
		}
	}

	bal0, err := s.ledger.BalanceOf(ctx, s.cfg.Leg0, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read leg0 balance: %w", err)
	}
	bal1, err := s.ledger.BalanceOf(ctx, s.cfg.Leg1, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read leg1 balance: %w", err)
	}
	if bal0.Sign() == 0 || bal1.Sign() == 0 {
		return nil
	}
	if _, err := s.router.AddLiquidity(ctx, s.cfg.Self, s.cfg.Leg0, s.cfg.Leg1, bal0, bal1, minSwapOut, minSwapOut, s.deadline()); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}
	return nil
}

// RewardsAvailable estimates the unclaimed reward balance. A failing farm read
// degrades to zero; telemetry never propagates collaborator faults.
func (s *Strategy) RewardsAvailable(ctx context.Context) *big.Int {
	pending, err := s.farm.PendingRewards(ctx, s.cfg.PoolID, s.cfg.Self)
	if err != nil {
		s.log.WithError(err).Debug("pending rewards read degraded to zero")
		return new(big.Int)
	}
	return pending
}

// CallReward estimates the payout to whoever harvests next: pending rewards
// quoted through the fee route, with the call-fee share applied. Quote
// failures degrade to zero.
func (s *Strategy) CallReward(ctx context.Context) *big.Int {
	pending := s.RewardsAvailable(ctx)
	if pending.Sign() == 0 {
		return new(big.Int)
	}
	residual := pending
	if s.cfg.FeeToken != s.cfg.Reward {
		quoted, err := s.router.QuoteOut(ctx, pending, s.cfg.RewardToFeeRoute)
		if err != nil {
			s.log.WithError(err).Debug("call reward quote degraded to zero")
			return new(big.Int)
		}
		residual = quoted
	}
	s.mu.Lock()
	schedule := s.cfg.Schedule
	s.mu.Unlock()
	return fees.Apply(residual, schedule).CallFee
}

// deadline computes the swap deadline for this cycle.
func (s *Strategy) deadline() time.Time {
	d := s.cfg.SwapDeadline
	if d <= 0 {
		d = 10 * time.Minute
	}
	return time.Now().Add(d)
}
