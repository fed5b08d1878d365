package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a circuit breaker. Zero values fall back to defaults.
type Config struct {
	Name             string
	MaxFailures      uint32
	Timeout          time.Duration
	HalfOpenMaxCalls uint32
	// OnStateChange is called with the lock released after every transition.
	OnStateChange func(name string, from, to State)
	// IsFailure decides whether an error counts against the breaker.
	// Context cancellation never does.
	IsFailure func(err error) bool
}

// CircuitBreaker protects calls to an external backend
type CircuitBreaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint64
	rejectedCount   uint64

	logger *logrus.Logger
	now    func() time.Time
}

// New creates a circuit breaker with the default logger
func New(name string, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return NewWithConfig(Config{Name: name, MaxFailures: maxFailures, Timeout: timeout}, nil)
}

// NewWithLogger creates a circuit breaker with a custom logger
func NewWithLogger(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return NewWithConfig(Config{Name: name, MaxFailures: maxFailures, Timeout: timeout}, logger)
}

// NewWithConfig creates a circuit breaker from a full Config
func NewWithConfig(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		state:  StateClosed,
		logger: logger,
		now:    time.Now,
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Execute runs fn if the breaker admits the call and records its outcome
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, transition := cb.admit()
	cb.notify(transition)
	if !allowed {
		return &CircuitBreakerError{
			Name:  cb.cfg.Name,
			State: cb.GetState(),
		}
	}

	err := fn(ctx)
	if err != nil && cb.countsAsFailure(err) {
		cb.notify(cb.onFailure())
		return err
	}

	cb.notify(cb.onSuccess())
	return err
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.cfg.IsFailure != nil {
		return cb.cfg.IsFailure(err)
	}
	return true
}

type transition struct {
	from, to State
}

// admit decides whether a call may proceed. An open breaker whose timeout
// elapsed moves to half-open and admits a bounded number of trial calls.
func (cb *CircuitBreaker) admit() (bool, *transition) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var tr *transition
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.Timeout {
		tr = cb.setState(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		cb.requestCount++
		return true, tr
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			cb.requestCount++
			return true, tr
		}
	}
	cb.rejectedCount++
	return false, tr
}

func (cb *CircuitBreaker) onSuccess() *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	switch cb.state {
	case StateHalfOpen:
		if cb.successCount >= cb.cfg.HalfOpenMaxCalls {
			return cb.setState(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
	return nil
}

func (cb *CircuitBreaker) onFailure() *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.MaxFailures {
			return cb.setState(StateOpen)
		}
	case StateHalfOpen:
		return cb.setState(StateOpen)
	}
	return nil
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.halfOpenCalls = 0
	cb.successCount = 0
	if to == StateClosed {
		cb.failures = 0
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from":            tr.from.String(),
		"state":           tr.to.String(),
	})
	if tr.to == StateOpen {
		entry.Warn("Circuit breaker opened due to failures")
	} else {
		entry.Info("Circuit breaker state changed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, tr.from, tr.to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.cfg.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Rejected:        cb.rejectedCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"-"`
	Failures        uint32    `json:"failures"`
	Requests        uint64    `json:"requests"`
	Rejected        uint64    `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreakerError is returned when the breaker rejects a call
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
