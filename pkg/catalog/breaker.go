package catalog

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is returned while the primary source is being skipped.
var ErrBreakerOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// circuitBreaker skips the primary source after consecutive failures so that
// Load can fall straight through to the legacy source while the primary is
// down, and probes it again after a reset timeout.
type circuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *zap.Logger

	mu              sync.Mutex
	state           breakerState
	failureCount    int
	lastFailureTime time.Time
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *zap.Logger) *circuitBreaker {
	if maxFailures <= 0 {
		maxFailures = breakerMaxFailures
	}
	if resetTimeout <= 0 {
		resetTimeout = breakerResetTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &circuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger,
		state:        breakerClosed,
	}
}

// Call runs fn unless the breaker is open, and records the outcome.
func (cb *circuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == breakerOpen {
		if time.Since(cb.lastFailureTime) >= cb.resetTimeout {
			cb.state = breakerHalfOpen
			cb.failureCount = 0
			cb.logger.Info("circuit breaker half-open, probing primary source")
		} else {
			cb.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current state name.
func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// recordFailure must be called with the lock held.
func (cb *circuitBreaker) recordFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case breakerHalfOpen:
		cb.state = breakerOpen
		cb.logger.Warn("circuit breaker reopened after failed probe")
	case breakerClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = breakerOpen
			cb.logger.Warn("circuit breaker opened",
				zap.Int("consecutive_failures", cb.failureCount))
		}
	}
}

// recordSuccess must be called with the lock held.
func (cb *circuitBreaker) recordSuccess() {
	switch cb.state {
	case breakerHalfOpen:
		cb.state = breakerClosed
		cb.failureCount = 0
		cb.lastFailureTime = time.Time{}
		cb.logger.Info("circuit breaker closed, primary source recovered")
	case breakerClosed:
		cb.failureCount = 0
	}
}
