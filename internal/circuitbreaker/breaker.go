// Package circuitbreaker protects strategies from repeated harvest failures,
// backing the keeper off when the farm or router is misbehaving.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new operations allowed
	StateHalfOpen              // Testing if the target has recovered
)

// Failure records one tripped or counted failure for diagnostics.
type Failure struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// CircuitBreaker counts consecutive operation failures and trips open when
// they cross a threshold. While open, Allow rejects work until the reset
// delay elapses; the breaker then half-opens and closes again after enough
// consecutive successes.
type CircuitBreaker struct {
	name string

	// Consecutive failures allowed before the circuit trips
	failureThreshold int

	// Number of successful operations required to close circuit
	successThreshold int

	// Duration before auto-reset attempt
	resetDelay time.Duration

	mu sync.RWMutex

	state        State
	lastTrip     time.Time
	failureCount int
	successCount int

	// Recent failures, bounded
	failures []Failure

	// Event callback for monitoring/alerting
	onTripCallback func(name, reason string)
}

// New creates a CircuitBreaker with default thresholds.
func New(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 3,
		successThreshold: 2,
		resetDelay:       5 * time.Minute,
	}
}

// WithFailureThreshold sets the consecutive failures needed to trip the circuit
func (cb *CircuitBreaker) WithFailureThreshold(threshold int) *CircuitBreaker {
	cb.failureThreshold = threshold
	return cb
}

// WithSuccessThreshold sets the number of successful operations needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Allow reports whether an operation may proceed. An open circuit transitions
// to half-open once the reset delay has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.RLock()
	state := cb.state
	lastTrip := cb.lastTrip
	cb.mu.RUnlock()

	if state == StateOpen {
		if time.Since(lastTrip) > cb.resetDelay {
			cb.transitionToHalfOpen()
			return nil
		}
		return errors.New("circuit breaker open: harvest suspended")
	}
	return nil
}

// Success records a successful operation, closing a half-open circuit after
// enough consecutive successes.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.WithField("breaker", cb.name).Info("Circuit breaker closed: target has recovered")
		}
	}
}

// Failure records a failed operation. A failure in half-open state trips the
// circuit immediately; in closed state it trips once the threshold is reached.
func (cb *CircuitBreaker) Failure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	cb.addFailure(reason)

	if cb.state == StateHalfOpen {
		cb.trip(reason)
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.trip(reason)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	logrus.WithField("breaker", cb.name).Info("Circuit breaker manually reset to closed state")
}

// RecentFailures returns a copy of the recorded failures, newest last.
func (cb *CircuitBreaker) RecentFailures() []Failure {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if len(cb.failures) == 0 {
		return nil
	}
	out := make([]Failure, len(cb.failures))
	copy(out, cb.failures)
	return out
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.WithField("breaker", cb.name).Info("Circuit breaker half-open: testing recovery")
	}
}

// trip sets the circuit breaker to open state with the current time.
// Caller must hold the write lock.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.failureCount = 0
	logrus.WithField("breaker", cb.name).Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason)
	}
}

// addFailure appends to the failure log, maintaining a bounded size.
// Caller must hold the write lock.
func (cb *CircuitBreaker) addFailure(reason string) {
	cb.failures = append(cb.failures, Failure{Reason: reason, At: time.Now()})

	const maxFailureLog = 100
	if len(cb.failures) > maxFailureLog {
		cb.failures = cb.failures[len(cb.failures)-maxFailureLog:]
	}
}
