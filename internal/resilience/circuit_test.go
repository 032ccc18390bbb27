package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBreaker(threshold int) *CircuitBreaker {
	return NewCircuitBreaker("api.eia.gov", CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
	})
}

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return errors.New("connection reset")
		})
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := fastBreaker(3)

	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterStreak(t *testing.T) {
	cb := fastBreaker(3)
	tripBreaker(cb, 3)
	assert.Equal(t, CircuitOpen, cb.State())

	// Open circuit rejects without invoking the call.
	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Fatal("call must not run while the circuit is open")
		return nil
	})
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Contains(t, err.Error(), "api.eia.gov")
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := fastBreaker(3)
	tripBreaker(cb, 2)

	failures, state := cb.Counters()
	assert.Equal(t, 2, failures)
	assert.Equal(t, CircuitClosed, state)

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error {
		return nil
	}))
	failures, _ = cb.Counters()
	assert.Equal(t, 0, failures)
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("rtba.enbridge.com", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})
	cb.now = func() time.Time { return now }
	tripBreaker(cb, 2)
	require.Equal(t, CircuitOpen, cb.State())

	// Cooldown elapses: half-open, and a successful probe closes it.
	cb.now = func() time.Time { return now.Add(31 * time.Second) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error {
		return nil
	}))
	failures, state := cb.Counters()
	assert.Equal(t, CircuitClosed, state)
	assert.Equal(t, 0, failures)
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("rtba.enbridge.com", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})
	cb.now = func() time.Time { return now }
	tripBreaker(cb, 2)

	cb.now = func() time.Time { return now.Add(31 * time.Second) }
	require.Equal(t, CircuitHalfOpen, cb.State())

	tripBreaker(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State(), "failed probe restarts the cooldown")
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	// Mirrors the fetcher's wiring: caller cancellation is not a
	// provider fault and must never open the circuit.
	cb := NewCircuitBreaker("www.ncei.noaa.gov", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return context.Canceled
		})
	}
	assert.Equal(t, CircuitClosed, cb.State())

	tripBreaker(cb, 2)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb := fastBreaker(1)

	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	tripBreaker(cb, 1)
	v, err = ExecuteVal(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Zero(t, v)
}

func TestProviderBreakers_PerHost(t *testing.T) {
	pb := NewProviderBreakers(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})

	assert.Same(t, pb.Get("api.eia.gov"), pb.Get("api.eia.gov"))

	// One dead provider does not open anyone else's circuit.
	tripBreaker(pb.Get("api.eia.gov"), 1)
	assert.Equal(t, map[string]CircuitState{
		"api.eia.gov": CircuitOpen,
	}, pb.States())

	assert.Equal(t, CircuitClosed, pb.Get("infopost.enbridge.com").State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
