// SPDX-License-Identifier: MIT

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, mutate func(*Config)) (*Limiter, *clock.Fake) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	fc := clock.NewFake(epoch)
	return New(cfg, WithClock(fc)), fc
}

func TestPerKeyBudget(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	for i := 0; i < 3; i++ {
		d := l.Acquire("vid", KindManual)
		require.True(t, d.Allowed(), "attempt %d", i+1)
		fc.Advance(30 * time.Second)
	}

	// t0+90s: three attempts in the window
	d := l.Acquire("vid", KindManual)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, 210*time.Second, d.Delay)
	assert.Equal(t, 0, l.Remaining("vid", KindManual))

	// Other keys are unaffected.
	assert.True(t, l.Acquire("other", KindManual).Allowed())

	// At t0+5m the first attempt leaves the window.
	fc.Advance(210 * time.Second)
	assert.True(t, l.Acquire("vid", KindManual).Allowed())
}

func TestGlobalBudget(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	for i := 0; i < 10; i++ {
		require.True(t, l.Acquire(fmt.Sprintf("vid-%d", i), KindManual).Allowed())
	}

	d := l.Acquire("vid-10", KindManual)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, time.Minute, d.Delay)

	d = l.Acquire("vid-10", KindPrefetch)
	assert.Equal(t, OutcomeDelayed, d.Outcome)

	fc.Advance(time.Minute)
	assert.True(t, l.Acquire("vid-10", KindManual).Allowed())
}

func TestAutoRecoveryBypassesGlobalBudget(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	for i := 0; i < 10; i++ {
		require.True(t, l.Acquire(fmt.Sprintf("vid-%d", i), KindManual).Allowed())
	}
	require.False(t, l.Acquire("late", KindManual).Allowed())

	assert.True(t, l.Acquire("late", KindAutoRecovery).Allowed())
	assert.True(t, l.Acquire("vid-0", KindAutoRecovery).Allowed())
}

func TestAutoRecoveryHasSeparateBudget(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	for i := 0; i < 3; i++ {
		require.True(t, l.Acquire("vid", KindManual).Allowed())
		fc.Advance(30 * time.Second)
	}
	require.Equal(t, OutcomeBlocked, l.Acquire("vid", KindManual).Outcome)

	// First recovery attempt skips the interval.
	assert.True(t, l.Acquire("vid", KindAutoRecovery).Allowed())

	d := l.Acquire("vid", KindAutoRecovery)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 10*time.Second, d.Delay)

	fc.Advance(4 * time.Second)
	d = l.Acquire("vid", KindAutoRecovery)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 6*time.Second, d.Delay)

	fc.Advance(6 * time.Second)
	assert.True(t, l.Acquire("vid", KindAutoRecovery).Allowed())
	assert.Equal(t, 0, l.Remaining("vid", KindAutoRecovery))

	fc.Advance(10 * time.Second)
	assert.Equal(t, OutcomeBlocked, l.Acquire("vid", KindAutoRecovery).Outcome)

	// Recovery attempts never consumed the normal budget.
	assert.Equal(t, 0, l.Remaining("vid", KindManual))
}

func TestPrefetchKeepsReserve(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	require.True(t, l.Acquire("vid", KindPrefetch).Allowed())
	fc.Advance(30 * time.Second)
	require.True(t, l.Acquire("vid", KindPrefetch).Allowed())
	fc.Advance(30 * time.Second)

	// Only one attempt left: prefetch must leave it to the user.
	d := l.Acquire("vid", KindPrefetch)
	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, 4*time.Minute, d.Delay)

	assert.True(t, l.Acquire("vid", KindManual).Allowed())
}

func TestIntervalsArePerKind(t *testing.T) {
	l, fc := newTestLimiter(t, func(c *Config) { c.PerKeyMax = 5 })

	require.True(t, l.Acquire("vid", KindManual).Allowed())
	fc.Advance(time.Second)
	assert.True(t, l.Acquire("vid", KindPrefetch).Allowed())

	d := l.Acquire("vid", KindManual)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 29*time.Second, d.Delay)

	d = l.Acquire("vid", KindPrefetch)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 30*time.Second, d.Delay)
}

func TestManualBackoff(t *testing.T) {
	l, fc := newTestLimiter(t, func(c *Config) {
		c.PerKeyMax = 20
		c.GlobalMax = 20
		c.ManualMinInterval = 0
	})

	require.True(t, l.Acquire("vid", KindManual).Allowed())

	d := l.Acquire("vid", KindManual)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 2*time.Second, d.Delay)

	fc.Advance(2 * time.Second)
	require.True(t, l.Acquire("vid", KindManual).Allowed())

	fc.Advance(time.Second)
	d = l.Acquire("vid", KindManual)
	assert.Equal(t, OutcomeDelayed, d.Outcome)
	assert.Equal(t, 3*time.Second, d.Delay)

	l.RecordSuccess("vid")
	assert.True(t, l.Acquire("vid", KindManual).Allowed())
}

func TestBackoffIsCapped(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	assert.Equal(t, time.Duration(0), l.backoff(0))
	assert.Equal(t, 2*time.Second, l.backoff(1))
	assert.Equal(t, 4*time.Second, l.backoff(2))
	assert.Equal(t, 32*time.Second, l.backoff(5))
	assert.Equal(t, 60*time.Second, l.backoff(6))
	assert.Equal(t, 60*time.Second, l.backoff(40))
}

func TestResetForKeyKeepsCounters(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	require.True(t, l.Acquire("vid", KindManual).Allowed())
	fc.Advance(30 * time.Second)
	require.True(t, l.Acquire("vid", KindManual).Allowed())

	l.ResetForKey("vid")
	assert.Equal(t, 1, l.Remaining("vid", KindManual))
}

func TestClear(t *testing.T) {
	l, _ := newTestLimiter(t, nil)

	for i := 0; i < 10; i++ {
		require.True(t, l.Acquire(fmt.Sprintf("vid-%d", i), KindManual).Allowed())
	}
	l.Clear()

	assert.True(t, l.Acquire("vid-0", KindManual).Allowed())
	assert.Equal(t, 2, l.Remaining("vid-0", KindManual))
}

func TestPruneDropsIdleKeys(t *testing.T) {
	l, fc := newTestLimiter(t, nil)

	require.True(t, l.Acquire("a", KindManual).Allowed())
	fc.Advance(4 * time.Minute)
	require.True(t, l.Acquire("b", KindAutoRecovery).Allowed())

	fc.Advance(time.Minute)
	assert.Equal(t, 1, l.Prune())

	fc.Advance(4 * time.Minute)
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 0, l.Prune())
}
