// Package circuitbreaker guards OrderManager's broker placement and the
// poller's and reconciler's broker list calls: a flaky broker must not pile
// up retries against a dead dependency while the poller and reconciler keep
// ticking. Broker cancel/modify calls and Store calls are not routed
// through a breaker.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is where a breaker sits in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes one named breaker. A breaker guarding the broker and one
// guarding the Store carry different tolerances (see DefaultBrokerConfig /
// DefaultStoreConfig in manager.go), so Config is built per call site
// rather than shared globally.
type Config struct {
	// Name identifies the breaker in logs and GetMetrics output.
	Name string

	// MaxFailures is the number of consecutive failures before tripping open.
	MaxFailures int

	// Timeout is how long a breaker stays open before probing half-open.
	Timeout time.Duration

	// MaxRequests caps how many probes are allowed through while half-open.
	MaxRequests int

	Logger zerolog.Logger
}

// DefaultConfig is a generic fallback; OrderManager's call sites use
// DefaultBrokerConfig instead, which sets tolerances appropriate to the
// broker.
func DefaultConfig(name string, logger zerolog.Logger) Config {
	return Config{
		Name:        name,
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 3,
		Logger:      logger,
	}
}

// CircuitBreaker wraps a single dependency call behind Execute, tripping
// open after MaxFailures consecutive errors and only letting traffic back
// in once MaxRequests half-open probes succeed.
type CircuitBreaker struct {
	config Config

	mu              sync.RWMutex
	state           State
	failures        int
	consecutiveSucc int
	lastStateChange time.Time
	halfOpenReqs    int
}

// New builds a breaker, filling in zero-value tolerances with the same
// defaults DefaultConfig uses.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 3
	}

	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn, rejecting it outright without calling fn when the
// breaker is open and the timeout hasn't yet elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()

	cb.afterRequest(err)

	return err
}

// beforeRequest decides whether this call is allowed through.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastStateChange) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenReqs = 0
			cb.config.Logger.Info().
				Str("breaker", cb.config.Name).
				Msg("circuitbreaker: entering half-open state")
			return nil
		}
		return fmt.Errorf("circuit breaker %q is open", cb.config.Name)

	case StateHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxRequests {
			return fmt.Errorf("circuit breaker %q half-open probe limit reached", cb.config.Name)
		}
		cb.halfOpenReqs++
		return nil

	default:
		return fmt.Errorf("circuit breaker %q: unknown state", cb.config.Name)
	}
}

// afterRequest records the outcome and drives the state machine.
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveSucc = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
			cb.config.Logger.Warn().
				Str("breaker", cb.config.Name).
				Int("failures", cb.failures).
				Msg("circuitbreaker: tripped open after consecutive failures")
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.config.Logger.Warn().
			Str("breaker", cb.config.Name).
			Msg("circuitbreaker: half-open probe failed, re-opening")
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.consecutiveSucc++

	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		if cb.consecutiveSucc >= cb.config.MaxRequests {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.config.Logger.Info().
				Str("breaker", cb.config.Name).
				Msg("circuitbreaker: closed after successful half-open probes")
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}

// GetState reports the breaker's current state, e.g. for a health check.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetMetrics reports a point-in-time snapshot for logging/telemetry.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"name":                cb.config.Name,
		"state":               cb.state.String(),
		"failures":            cb.failures,
		"consecutive_success": cb.consecutiveSucc,
		"last_state_change":   cb.lastStateChange.Format(time.RFC3339),
	}
}
