package mirrors

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		MaxAttempts: 5,
	}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 250*time.Millisecond, policy.Delay(3), "delay must be capped at MaxDelay")
	assert.Equal(t, 250*time.Millisecond, policy.Delay(100))

	// Delays never decrease as attempts grow.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay shrank at attempt %d", attempt)
		prev = d
	}

	assert.Equal(t, policy.Delay(1), policy.Delay(0), "attempt numbers below 1 are clamped")
}

func TestRetryScheduler_Fires(t *testing.T) {
	s := newRetryScheduler(RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3})
	defer s.stop()

	var fired atomic.Int32
	armed := s.schedule("msgs_plain|m1", 1, func(attempt int) {
		assert.Equal(t, 1, attempt)
		fired.Add(1)
	})
	require.True(t, armed)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.pending(), "a fired task must leave the pending set")
}

func TestRetryScheduler_SingleFlightPerKey(t *testing.T) {
	s := newRetryScheduler(RetryPolicy{BaseDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond, MaxAttempts: 5})
	defer s.stop()

	var first, second atomic.Int32
	require.True(t, s.schedule("k", 1, func(int) { first.Add(1) }))
	require.True(t, s.schedule("k", 2, func(int) { second.Add(1) }))

	assert.Equal(t, 1, s.pending(), "rescheduling a key must replace its timer, not add one")

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "the superseded task must never fire")
}

func TestRetryScheduler_Ceiling(t *testing.T) {
	s := newRetryScheduler(RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3})
	defer s.stop()

	assert.True(t, s.schedule("k", 3, func(int) {}))
	assert.False(t, s.schedule("k2", 4, func(int) {}), "attempts beyond MaxAttempts must be refused")
}

func TestRetryScheduler_Cancel(t *testing.T) {
	s := newRetryScheduler(RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxAttempts: 3})
	defer s.stop()

	var fired atomic.Int32
	require.True(t, s.schedule("k", 1, func(int) { fired.Add(1) }))
	s.cancel("k")

	assert.Equal(t, 0, s.pending())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "a cancelled task must not fire")

	// Cancelling an unknown key is a no-op.
	s.cancel("unknown")
}

func TestRetryScheduler_Stop(t *testing.T) {
	s := newRetryScheduler(RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxAttempts: 3})

	var fired atomic.Int32
	require.True(t, s.schedule("k1", 1, func(int) { fired.Add(1) }))
	require.True(t, s.schedule("k2", 1, func(int) { fired.Add(1) }))

	s.stop()

	assert.Equal(t, 0, s.pending())
	assert.False(t, s.schedule("k3", 1, func(int) {}), "a stopped scheduler refuses new work")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "stop must suppress not-yet-started retries")
}
