// Package strategy implements the accounting and harvest-cycle engine shared by
// all auto-compounding strategies: funds move between "idle", "deployed in the
// farm", and "paid out as fees", and the vault prices shares off the total this
// engine reports.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/farm"
	"github.com/yourorg/autocompounder/internal/fees"
	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/router"
	"github.com/yourorg/autocompounder/internal/token"
)

// Sentinel errors for the engine's failure taxonomy. Authorization and state
// errors never leave partial effects behind.
var (
	ErrUnauthorized = errors.New("caller lacks the required role")
	ErrPaused       = errors.New("strategy is paused")
	ErrNotPaused    = errors.New("strategy is not paused")
	ErrRetired      = errors.New("strategy is retired")
	ErrZeroAmount   = errors.New("amount must be positive")
)

// Config describes one strategy instance: identity, external collaborators'
// topology, routes, and the fee schedule. Identity fields are immutable after
// construction; only the fee schedule and the policy flags have setters.
type Config struct {
	// Name identifies the strategy in logs, events, and the API
	Name string

	// Self is the engine account that holds this strategy's funds
	Self common.Address

	// Want is the asset the strategy accumulates
	Want common.Address

	// Reward is the primary reward token the farm pays out
	Reward common.Address

	// FeeToken is the fee-bearing intermediate asset fees are charged in
	FeeToken common.Address

	// PoolID keys the strategy's stake inside the farm
	PoolID uint64

	// Leg0 and Leg1 are the LP underlying legs; zero for single-asset strategies
	Leg0 common.Address
	Leg1 common.Address

	// Conversion routes. A route may be nil when its endpoints are the same asset.
	RewardToFeeRoute model.Route
	FeeToWantRoute   model.Route
	FeeToLeg0Route   model.Route
	FeeToLeg1Route   model.Route

	// Schedule is the fee schedule applied on harvest and withdraw
	Schedule model.FeeSchedule

	// HarvestOnDeposit triggers a harvest before every vault deposit; forces
	// the withdrawal fee to zero
	HarvestOnDeposit bool

	// HarvestWhilePaused permits harvesting under pause (the lenient policy)
	HarvestWhilePaused bool

	// SwapDeadline bounds every swap; an expired deadline aborts the cycle
	SwapDeadline time.Duration

	// Role holders
	Owner      common.Address
	Manager    common.Address
	Strategist common.Address
	Vault      common.Address
	Treasury   common.Address
}

// IsLP reports whether the want asset is an LP pair token.
func (c Config) IsLP() bool {
	return c.Leg0 != (common.Address{}) || c.Leg1 != (common.Address{})
}

// Validate checks the route topology and fee schedule once, at construction.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("strategy name required")
	}
	if c.Want == (common.Address{}) || c.Reward == (common.Address{}) || c.FeeToken == (common.Address{}) {
		return errors.New("want, reward, and fee token are required")
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}
	if c.HarvestOnDeposit && c.Schedule.WithdrawalFee != 0 {
		return errors.New("harvest-on-deposit strategies must carry a zero withdrawal fee")
	}
	if err := c.checkRoute("reward->fee", c.RewardToFeeRoute, c.Reward, c.FeeToken); err != nil {
		return err
	}
	if c.IsLP() {
		if c.Leg0 == (common.Address{}) || c.Leg1 == (common.Address{}) {
			return errors.New("LP strategies need both legs")
		}
		if err := c.checkRoute("fee->leg0", c.FeeToLeg0Route, c.FeeToken, c.Leg0); err != nil {
			return err
		}
		if err := c.checkRoute("fee->leg1", c.FeeToLeg1Route, c.FeeToken, c.Leg1); err != nil {
			return err
		}
	} else {
		if err := c.checkRoute("fee->want", c.FeeToWantRoute, c.FeeToken, c.Want); err != nil {
			return err
		}
	}
	return nil
}

// checkRoute validates a conversion route; identical endpoints need no route.
func (c Config) checkRoute(label string, r model.Route, from, to common.Address) error {
	if from == to {
		if len(r) != 0 {
			return fmt.Errorf("%s route configured for identical assets", label)
		}
		return nil
	}
	if len(r) == 0 {
		return fmt.Errorf("%s route missing", label)
	}
	if err := r.Validate(from, to); err != nil {
		return fmt.Errorf("%s route: %w", label, err)
	}
	return nil
}

// Strategy is one deployed instance of the engine. Entry points execute to
// completion under a single lock, matching the one-call-at-a-time execution
// model of the contracts this engine coordinates.
type Strategy struct {
	mu  sync.Mutex
	cfg Config

	farm   farm.Adapter
	router router.Adapter
	ledger token.Ledger

	paused      bool
	retired     bool
	lastHarvest time.Time

	sinks []model.Sink
	log   *logrus.Entry
}

// New validates cfg and builds a strategy with its allowances granted.
func New(ctx context.Context, cfg Config, f farm.Adapter, r router.Adapter, l token.Ledger) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", cfg.Name, err)
	}
	s := &Strategy{
		cfg:    cfg,
		farm:   f,
		router: r,
		ledger: l,
		log:    logrus.WithField("strategy", cfg.Name),
	}
	if err := s.onActivate(ctx); err != nil {
		return nil, fmt.Errorf("strategy %q: grant allowances: %w", cfg.Name, err)
	}
	s.log.WithFields(logrus.Fields{
		"want":    cfg.Want.Hex(),
		"pool":    cfg.PoolID,
		"lp":      cfg.IsLP(),
		"manager": cfg.Manager.Hex(),
	}).Info("strategy initialized")
	return s, nil
}

// AddSink subscribes a consumer to this strategy's audit events.
func (s *Strategy) AddSink(sink model.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Name returns the configured strategy name.
func (s *Strategy) Name() string { return s.cfg.Name }

// Want returns the accumulated asset.
func (s *Strategy) Want() common.Address { return s.cfg.Want }

// Paused reports whether deposits are currently blocked.
func (s *Strategy) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Retired reports whether the strategy has been terminally retired.
func (s *Strategy) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// LastHarvest returns the time of the last harvest that claimed a nonzero
// reward balance; zero if none yet.
func (s *Strategy) LastHarvest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHarvest
}

// Schedule returns the current fee schedule.
func (s *Strategy) Schedule() model.FeeSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Schedule
}

// BalanceOfWant is the idle want held by the strategy. Read failures degrade
// to zero so the vault's share pricing never aborts on a transient fault.
func (s *Strategy) BalanceOfWant(ctx context.Context) *big.Int {
	bal, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		s.log.WithError(err).Warn("idle balance read degraded to zero")
		return new(big.Int)
	}
	return bal
}

// BalanceOfPool is the want deployed in the farm, degraded to zero on failure.
func (s *Strategy) BalanceOfPool(ctx context.Context) *big.Int {
	staked, err := s.farm.StakedBalance(ctx, s.cfg.PoolID, s.cfg.Self)
	if err != nil {
		s.log.WithError(err).Warn("staked balance read degraded to zero")
		return new(big.Int)
	}
	return staked
}

// TotalControlled is idle plus deployed want: the figure the vault prices
// shares from. Callable at any time, including mid-pause.
func (s *Strategy) TotalControlled(ctx context.Context) *big.Int {
	return new(big.Int).Add(s.BalanceOfWant(ctx), s.BalanceOfPool(ctx))
}

// Deposit moves all idle want into the farm. Callable by anyone while active;
// the vault transfers want in first, then calls this.
func (s *Strategy) Deposit(ctx context.Context, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return ErrRetired
	}
	if s.paused {
		return ErrPaused
	}
	if err := s.depositIdle(ctx); err != nil {
		return err
	}
	s.emit(model.NewEvent(s.cfg.Name, model.EventDeposit, caller, s.TotalControlled(ctx)))
	return nil
}

// BeforeDeposit is the vault's pre-mint hook. When harvest-on-deposit is set
// it runs a full harvest so entering depositors cannot dilute pending yield;
// origin receives the call fee.
func (s *Strategy) BeforeDeposit(ctx context.Context, caller, origin common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleVault); err != nil {
		return err
	}
	if s.retired {
		return ErrRetired
	}
	if !s.cfg.HarvestOnDeposit {
		return nil
	}
	return s.harvestCycle(ctx, caller, origin)
}

// Withdraw sends amount of want to the vault, pulling from the farm when idle
// funds do not cover it. A withdrawal fee applies unless the originating user
// is the owner or the strategy is paused; the fee stays with the remaining
// depositors.
func (s *Strategy) Withdraw(ctx context.Context, caller, origin common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAny(caller, model.RoleVault); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	idle, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read idle balance: %w", err)
	}
	if idle.Cmp(amount) < 0 {
		missing := new(big.Int).Sub(amount, idle)
		if err := s.farm.Withdraw(ctx, s.cfg.PoolID, missing, s.cfg.Self); err != nil {
			return fmt.Errorf("farm withdraw: %w", err)
		}
		if idle, err = s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self); err != nil {
			return fmt.Errorf("read idle balance: %w", err)
		}
	}

	// The farm may round down; never deliver more than requested.
	out := new(big.Int).Set(idle)
	if out.Cmp(amount) > 0 {
		out.Set(amount)
	}

	if origin != s.cfg.Owner && !s.paused {
		fee := fees.WithdrawalFee(out, s.cfg.Schedule)
		out.Sub(out, fee)
	}

	if err := s.ledger.Transfer(ctx, s.cfg.Want, s.cfg.Self, s.cfg.Vault, out); err != nil {
		return fmt.Errorf("deliver want to vault: %w", err)
	}

	ev := model.NewEvent(s.cfg.Name, model.EventWithdraw, origin, s.TotalControlled(ctx))
	ev.Amount = out
	s.emit(ev)
	return nil
}

// depositIdle stakes all idle want. Lock must be held.
func (s *Strategy) depositIdle(ctx context.Context) error {
	idle, err := s.ledger.BalanceOf(ctx, s.cfg.Want, s.cfg.Self)
	if err != nil {
		return fmt.Errorf("read idle balance: %w", err)
	}
	if idle.Sign() == 0 {
		return nil
	}
	if err := s.farm.Deposit(ctx, s.cfg.PoolID, idle, s.cfg.Self); err != nil {
		return fmt.Errorf("farm deposit: %w", err)
	}
	s.log.WithField("amount", idle).Debug("idle want deployed")
	return nil
}

// requireAny allows the call when caller holds any of the listed roles. The
// owner additionally satisfies the manager role.
func (s *Strategy) requireAny(caller common.Address, roles ...model.Role) error {
	for _, role := range roles {
		var holder common.Address
		switch role {
		case model.RoleOwner:
			holder = s.cfg.Owner
		case model.RoleManager:
			holder = s.cfg.Manager
			if caller == s.cfg.Owner {
				return nil
			}
		case model.RoleStrategist:
			holder = s.cfg.Strategist
		case model.RoleVault:
			holder = s.cfg.Vault
		}
		if holder != (common.Address{}) && caller == holder {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
}

// emit fans an event out to all sinks. Lock must be held.
func (s *Strategy) emit(e model.Event) {
	for _, sink := range s.sinks {
		sink.Record(e)
	}
}
