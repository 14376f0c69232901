package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Name:        "velocity",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     40 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 10 && c.FailureRatio() >= 0.5
		},
	}
}

func fail(cb *CircuitBreaker) error {
	_, err := cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	return err
}

func succeed(cb *CircuitBreaker) error {
	_, err := cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
		return int64(1), nil
	})
	return err
}

func TestTripsAtHalfFailuresOverTenRequests(t *testing.T) {
	cb := New(testConfig())

	// 1. Nine requests, four failed: under both thresholds, still closed.
	for i := 0; i < 5; i++ {
		require.NoError(t, succeed(cb))
	}
	for i := 0; i < 4; i++ {
		require.Error(t, fail(cb))
	}
	assert.Equal(t, StateClosed, cb.State())

	// 2. Tenth request fails: 5/10 failed, circuit opens.
	require.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.State())

	// 3. While open, calls are rejected without running the request.
	ran := false
	_, err := cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestHalfOpenClosesAfterProbeSuccesses(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 10; i++ {
		fail(cb)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Three consecutive probe successes close the circuit.
	require.NoError(t, succeed(cb))
	require.NoError(t, succeed(cb))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 10; i++ {
		fail(cb)
	}
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.Error(t, fail(cb))
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbeConcurrency(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 10; i++ {
		fail(cb)
	}
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Occupy the probe budget without completing the requests.
	release := make(chan struct{})
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
				<-release
				return nil, nil
			})
			done <- struct{}{}
		}()
	}

	// In-flight probes saturate MaxRequests; the next caller is turned away.
	assert.Eventually(t, func() bool {
		return errors.Is(cb.Allow(), ErrTooManyRequests)
	}, time.Second, 5*time.Millisecond)

	close(release)
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestClosedCountsResetEachInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 30 * time.Millisecond
	cb := New(cfg)

	for i := 0; i < 9; i++ {
		fail(cb)
	}
	require.Equal(t, StateClosed, cb.State())

	// A fresh interval clears the window, so old failures cannot trip it.
	time.Sleep(60 * time.Millisecond)
	require.Error(t, fail(cb))
	assert.Equal(t, StateClosed, cb.State())
	assert.LessOrEqual(t, cb.Counts().Requests, uint32(1))
}
