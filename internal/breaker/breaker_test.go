package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 2,
		Interval:    0,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 3 && c.FailureRatio() > 0.5
		},
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(testConfig("t"))
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_TripsOpenAfterReadyToTrip(t *testing.T) {
	b := New(testConfig("t"))
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return fail })
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_OpenRejectsWithoutExecuting(t *testing.T) {
	b := New(testConfig("t"))
	for i := 0; i < 3; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.ExecuteContext(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_TransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := New(testConfig("t"))
	for i := 0; i < 3; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	b := New(testConfig("t"))
	for i := 0; i < 3; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	for i := 0; i < 2; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return nil })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig("t"))
	for i := 0; i < 3; i++ {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_PanicRecordedAsFailureAndRepanics(t *testing.T) {
	b := New(testConfig("t"))
	assert.Panics(t, func() {
		_ = b.ExecuteContext(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, uint32(1), b.Counts().TotalFailures)
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	a := m.GetOrCreate("x")
	b := m.GetOrCreate("x")
	assert.Same(t, a, b)
}

func TestNewKernelBreakers_DistinctTimeouts(t *testing.T) {
	kb := NewKernelBreakers(nil, 0, 0)
	assert.Equal(t, "reflex", kb.Reflex.Name())
	assert.Equal(t, "meta", kb.Meta.Name())
	assert.Equal(t, StateClosed, kb.Reflex.State())
}

func TestNewKernelBreakers_MetaTripsOnFewerRequestsThanReflex(t *testing.T) {
	kb := NewKernelBreakers(nil, 0, 0)

	for i := 0; i < 3; i++ {
		_ = kb.Meta.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	assert.Equal(t, StateOpen, kb.Meta.State(), "meta should trip at its small Fibonacci floor")

	for i := 0; i < 3; i++ {
		_ = kb.Reflex.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	assert.Equal(t, StateClosed, kb.Reflex.State(), "reflex tolerates more failing requests before tripping")
}

func TestNewKernelBreakers_FailThresholdScalesRequestsFloor(t *testing.T) {
	kb := NewKernelBreakers(nil, 1, 0)

	_ = kb.Meta.ExecuteContext(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, StateOpen, kb.Meta.State(), "a fail threshold of 1 should scale meta's floor down to 1")
}
