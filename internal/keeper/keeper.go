// Package keeper schedules automated harvests across registered strategies.
package keeper

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/circuitbreaker"
	"github.com/yourorg/autocompounder/internal/strategy"
)

// Keeper runs cron-scheduled harvests. Each registered strategy gets its own
// circuit breaker so one misbehaving farm does not stall the rest.
type Keeper struct {
	cron    *cron.Cron
	caller  common.Address
	timeout time.Duration

	// MinCallReward gates scheduled harvests: below the floor the cycle is
	// skipped and retried on the next tick
	minCallReward *big.Int

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	strat    *strategy.Strategy
	breaker  *circuitbreaker.CircuitBreaker
	schedule string

	lastRun    time.Time
	lastResult string
}

// New creates a Keeper that harvests as the given caller identity.
func New(caller common.Address, minCallReward *big.Int, timeout time.Duration) *Keeper {
	if minCallReward == nil {
		minCallReward = big.NewInt(0)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Keeper{
		cron:          cron.New(),
		caller:        caller,
		timeout:       timeout,
		minCallReward: minCallReward,
		entries:       make(map[string]*entry),
	}
}

// Register adds a strategy to the schedule. An empty cron expression registers
// the strategy for manual triggering only; a nil breaker gets a default one.
func (k *Keeper) Register(strat *strategy.Strategy, schedule string, breaker *circuitbreaker.CircuitBreaker) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	name := strat.Name()
	if _, exists := k.entries[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	if breaker == nil {
		breaker = circuitbreaker.New(name)
	}

	e := &entry{strat: strat, breaker: breaker, schedule: schedule}
	k.entries[name] = e

	if schedule == "" {
		return nil
	}
	if _, err := k.cron.AddFunc(schedule, func() { k.runEntry(e) }); err != nil {
		delete(k.entries, name)
		return fmt.Errorf("register harvest schedule for %q: %w", name, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.cron.Start()
	logrus.Info("keeper started")
}

// Stop stops the cron scheduler gracefully.
func (k *Keeper) Stop() {
	k.cron.Stop()
	logrus.Info("keeper stopped")
}

// RunNow triggers a harvest for one strategy immediately, bypassing the cron
// schedule but not the breaker or the reward floor.
func (k *Keeper) RunNow(name string) error {
	k.mu.RLock()
	e, ok := k.entries[name]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	k.runEntry(e)
	return nil
}

func (k *Keeper) runEntry(e *entry) {
	log := logrus.WithField("strategy", e.strat.Name())

	if err := e.breaker.Allow(); err != nil {
		log.Warnf("Scheduled harvest skipped: %v", err)
		k.note(e, "breaker open")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	if k.minCallReward.Sign() > 0 {
		reward := e.strat.CallReward(ctx)
		if reward.Cmp(k.minCallReward) < 0 {
			log.WithField("call_reward", reward.String()).Debug("harvest below reward floor, skipping")
			k.note(e, "below reward floor")
			return
		}
	}

	if err := e.strat.Harvest(ctx, k.caller); err != nil {
		e.breaker.Failure(err)
		log.Errorf("Scheduled harvest failed: %v", err)
		k.note(e, "failed: "+err.Error())
		return
	}

	e.breaker.Success()
	k.note(e, "ok")
}

func (k *Keeper) note(e *entry, result string) {
	k.mu.Lock()
	e.lastRun = time.Now()
	e.lastResult = result
	k.mu.Unlock()
}

// EntryStatus describes one scheduled strategy for the telemetry endpoint.
type EntryStatus struct {
	Strategy   string `json:"strategy"`
	Schedule   string `json:"schedule,omitempty"`
	Breaker    string `json:"breaker"`
	LastRun    string `json:"last_run,omitempty"`
	LastResult string `json:"last_result,omitempty"`
}

// Status reports the schedule and breaker state of every registered strategy.
func (k *Keeper) Status() []EntryStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]EntryStatus, 0, len(k.entries))
	for name, e := range k.entries {
		st := EntryStatus{
			Strategy:   name,
			Schedule:   e.schedule,
			Breaker:    breakerLabel(e.breaker.GetState()),
			LastResult: e.lastResult,
		}
		if !e.lastRun.IsZero() {
			st.LastRun = e.lastRun.Format(time.RFC3339)
		}
		out = append(out, st)
	}
	return out
}

func breakerLabel(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.StateOpen:
		return "open"
	case circuitbreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
