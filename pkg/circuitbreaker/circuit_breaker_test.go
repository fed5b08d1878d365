package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures uint32, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewWithLogger("ollama", maxFailures, timeout, quietLogger())
	cb.now = clock.Now
	return cb, clock
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestNew_Defaults(t *testing.T) {
	cb := NewWithConfig(Config{Name: "x"}, nil)

	assert.Equal(t, uint32(5), cb.cfg.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.cfg.Timeout)
	assert.Equal(t, uint32(1), cb.cfg.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "x", cb.Name())
}

func TestExecute_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, uint64(1), cb.GetStats().Rejected)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	clock.Advance(2 * time.Minute)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.GetState())
}

func TestExecute_ContextCanceledIsNotFailure(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("call: %w", context.Canceled)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute_IsFailurePredicate(t *testing.T) {
	notCounted := errors.New("client error")
	cb := NewWithConfig(Config{
		Name:        "signal",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, notCounted) },
	}, quietLogger())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return notCounted })

	assert.ErrorIs(t, err, notCounted)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOnStateChange(t *testing.T) {
	var transitions []string
	cb := NewWithConfig(Config{
		Name:        "ollama",
		MaxFailures: 1,
		Timeout:     time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	}, quietLogger())

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("x") })
	time.Sleep(5 * time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	assert.Equal(t, []string{
		"ollama:CLOSED->OPEN",
		"ollama:OPEN->HALF_OPEN",
		"ollama:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreakerError(t *testing.T) {
	err := &CircuitBreakerError{Name: "signal", State: StateOpen}

	assert.Equal(t, "circuit breaker 'signal' is OPEN", err.Error())
	assert.True(t, IsCircuitBreakerError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsCircuitBreakerError(errors.New("other")))
}

func TestExecute_Concurrent(t *testing.T) {
	cb, _ := newTestBreaker(1000, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(50), cb.GetStats().Requests)
}
