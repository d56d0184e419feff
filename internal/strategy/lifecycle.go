package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/autocompounder/internal/model"
)

// Pause blocks deposits (and, under the strict policy, harvests) and revokes
// all standing allowances. Withdrawals stay open.
func (s *Strategy) Pause(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if s.paused {
		return ErrPaused
	}
	s.paused = true
	if err := s.onDeactivate(ctx); err != nil {
		return fmt.Errorf("revoke allowances: %w", err)
	}
	s.log.WithField("caller", caller.Hex()).Warn("strategy paused")
	return nil
}

// Unpause restores allowances and immediately redeploys idle want so funds
// don't sit unproductive after resuming.
func (s *Strategy) Unpause(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if !s.paused {
		return ErrNotPaused
	}
	if err := s.onActivate(ctx); err != nil {
		return fmt.Errorf("restore allowances: %w", err)
	}
	s.paused = false
	if err := s.depositIdle(ctx); err != nil {
		return err
	}
	s.log.WithField("caller", caller.Hex()).Info("strategy unpaused")
	return nil
}

// Panic pauses and force-withdraws everything from the farm through the
// emergency path, forfeiting pending rewards. For use when the farm is
// believed compromised.
func (s *Strategy) Panic(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if !s.paused {
		s.paused = true
		if err := s.onDeactivate(ctx); err != nil {
			return fmt.Errorf("revoke allowances: %w", err)
		}
	}
	if err := s.farm.EmergencyWithdraw(ctx, s.cfg.PoolID, s.cfg.Self); err != nil {
		return fmt.Errorf("emergency withdraw: %w", err)
	}
	s.emit(model.NewEvent(s.cfg.Name, model.EventPanic, caller, s.TotalControlled(ctx)))
	s.log.WithField("caller", caller.Hex()).Warn("strategy panicked: funds pulled from farm")
	return nil
}

// Retire force-withdraws everything and forwards all want to the vault. Vault
// only; the terminal step of a strategy migration. The surrounding migration
// protocol prevents further deposits.
func (s *Strategy) Retire(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleVault); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if err := s.farm.EmergencyWithdraw(ctx, s.cfg.PoolID, s.cfg.Self); err != nil {
		return fmt.Errorf("emergency withdraw: %w", err)
	}
	idle, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read idle balance: %w", err)
	}
	if idle.Sign() > 0 {
		if err := s.ledger.Transfer(ctx, s.cfg.Want, s.cfg.Self, s.cfg.Vault, idle); err != nil {
			return fmt.Errorf("forward want to vault: %w", err)
		}
	}
	s.retired = true
	if err := s.onDeactivate(ctx); err != nil {
		return fmt.Errorf("revoke allowances: %w", err)
	}
	ev := model.NewEvent(s.cfg.Name, model.EventRetire, caller, new(big.Int))
	ev.Amount = idle
	s.emit(ev)
	s.log.WithField("forwarded", idle).Warn("strategy retired")
	return nil
}

// onActivate grants the unlimited allowances the active operation mode needs:
// the farm spends want, the router spends everything the routes sell.
func (s *Strategy) onActivate(ctx context.Context) error {
	return s.setAllowances(ctx, model.MaxUint256)
}

// onDeactivate revokes every standing allowance.
func (s *Strategy) onDeactivate(ctx context.Context) error {
	return s.setAllowances(ctx, new(big.Int))
}

func (s *Strategy) setAllowances(ctx context.Context, amount *big.Int) error {
	if err := s.ledger.Approve(ctx, s.cfg.Want, s.cfg.Self, s.farm.Address(), amount); err != nil {
		return fmt.Errorf("farm allowance on want: %w", err)
	}
	for _, t := range s.routerSpends() {
		if err := s.ledger.Approve(ctx, t, s.cfg.Self, s.router.Address(), amount); err != nil {
			return fmt.Errorf("router allowance on %s: %w", t.Hex(), err)
		}
	}
	return nil
}

// routerSpends lists the distinct tokens the router must be able to pull.
func (s *Strategy) routerSpends() []common.Address {
	seen := map[common.Address]bool{}
	var tokens []common.Address
	add := func(t common.Address) {
		if t != (common.Address{}) && !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	add(s.cfg.Reward)
	add(s.cfg.FeeToken)
	if s.cfg.IsLP() {
		add(s.cfg.Leg0)
		add(s.cfg.Leg1)
	}
	return tokens
}

// SetHarvestOnDeposit toggles pre-deposit harvesting. Enabling it forces the
// withdrawal fee to zero: depositors already pay through frequent harvest gas,
// and a withdrawal fee would double-charge short-horizon depositors.
func (s *Strategy) SetHarvestOnDeposit(caller common.Address, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	s.cfg.HarvestOnDeposit = enabled
	if enabled {
		s.cfg.Schedule.WithdrawalFee = 0
	}
	s.log.WithField("enabled", enabled).Info("harvest-on-deposit updated")
	return nil
}

// SetWithdrawalFee updates the withdrawal fee rate, subject to the cap.
func (s *Strategy) SetWithdrawalFee(caller common.Address, rate uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if s.cfg.HarvestOnDeposit && rate != 0 {
		return errors.New("withdrawal fee must stay zero while harvest-on-deposit is set")
	}
	next := s.cfg.Schedule
	next.WithdrawalFee = rate
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg.Schedule = next
	s.log.WithField("rate", rate).Info("withdrawal fee updated")
	return nil
}

// SetCallFee updates the harvest caller's share, subject to the cap.
func (s *Strategy) SetCallFee(caller common.Address, rate uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	next := s.cfg.Schedule
	next.CallFee = rate
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg.Schedule = next
	s.log.WithField("rate", rate).Info("call fee updated")
	return nil
}

// SetStrategist reassigns the strategist fee recipient. Only the current
// strategist or the owner may hand the role over.
func (s *Strategy) SetStrategist(caller, next common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleOwner, model.RoleStrategist); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return errors.New("strategist address required")
	}
	s.cfg.Strategist = next
	s.log.WithField("strategist", next.Hex()).Info("strategist updated")
	return nil
}

// SetHarvestWhilePaused switches between the strict and lenient pause
// policies for the harvest entry point.
func (s *Strategy) SetHarvestWhilePaused(caller common.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	s.cfg.HarvestWhilePaused = allowed
	s.log.WithField("allowed", allowed).Info("harvest-while-paused policy updated")
	return nil
}

// InCaseTokensGetStuck sweeps a foreign token that landed on the strategy to
// the caller. The want and reward assets are never sweepable.
func (s *Strategy) InCaseTokensGetStuck(ctx context.Context, caller, stuck common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleManager); err != nil {
		return err
	}
	if stuck == s.cfg.Want || stuck == s.cfg.Reward {
		return fmt.Errorf("token %s is part of the strategy and cannot be swept", stuck.Hex())
	}
	bal, err := s.ledger.BalanceOf(ctx, stuck, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read stuck balance: %w", err)
	}
	if bal.Sign() == 0 {
		return nil
	}
	if err := s.ledger.Transfer(ctx, stuck, s.cfg.Self, caller, bal); err != nil {
		return fmt.Errorf("sweep stuck token: %w", err)
	}
	s.log.WithField("token", stuck.Hex()).Info("stuck tokens swept")
	return nil
}
