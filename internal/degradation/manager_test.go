// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package degradation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
)

type events struct {
	mu       sync.Mutex
	states   []string
	required []Action
	low      []int
}

func (e *events) OnStateChanged(videoID string, from, to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, fmt.Sprintf("%s:%s->%s", videoID, from, to))
}

func (e *events) OnDegradationRequired(_ string, action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.required = append(e.required, action)
}

func (e *events) OnBudgetLow(_ string, remaining int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.low = append(e.low, remaining)
}

func newManager(t *testing.T) (*Manager, *clock.Fake, *events) {
	t.Helper()
	fc := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	ev := &events{}
	return New(DefaultConfig(), WithClock(fc), WithListener(ev)), fc, ev
}

func TestExhaustionAfterFullBudget(t *testing.T) {
	m, _, ev := newManager(t)

	for i := 0; i < 4; i++ {
		assert.Equal(t, ActionNone, m.ConsumeRefresh("v1", "url_expired"))
	}
	assert.Equal(t, ActionQualityStepDown, m.ConsumeRefresh("v1", "url_expired"))

	rec, ok := m.Snapshot("v1")
	require.True(t, ok)
	assert.Equal(t, StateExhausted, rec.State)
	assert.Equal(t, 0, rec.RemainingBudget)

	assert.Equal(t, []string{
		"v1:HEALTHY->DEGRADED",
		"v1:DEGRADED->EXHAUSTED",
	}, ev.states)
	assert.Equal(t, []Action{ActionQualityStepDown}, ev.required)
	assert.Equal(t, []int{2, 1}, ev.low)
}

func TestBudgetNeverNegative(t *testing.T) {
	m, _, _ := newManager(t)
	for i := 0; i < 8; i++ {
		m.ConsumeRefresh("v1", "test")
	}
	rec, _ := m.Snapshot("v1")
	assert.Equal(t, 0, rec.RemainingBudget)
	assert.Equal(t, StateExhausted, rec.State)
}

func TestFallbackOrder(t *testing.T) {
	m, _, _ := newManager(t)

	drain := func() Action {
		var last Action
		for {
			last = m.ConsumeRefresh("v1", "test")
			if rec, _ := m.Snapshot("v1"); rec.RemainingBudget == 0 {
				return last
			}
		}
	}

	var got []Action
	for i := 0; i < 5; i++ {
		a := drain()
		got = append(got, a)
		m.OnDegradationApplied("v1", a)
	}
	assert.Equal(t, []Action{
		ActionQualityStepDown,
		ActionQualityStepDown,
		ActionSwitchToMuxed,
		ActionForceHLSFallback,
		ActionNone,
	}, got)

	rec, _ := m.Snapshot("v1")
	assert.Equal(t, 2, rec.QualityStepDowns)
	assert.True(t, rec.SwitchedToMuxed)
	assert.True(t, rec.HLSFallbackApplied)
	assert.Equal(t, StateExhausted, rec.State)
}

func TestDegradationAppliedRestoresPartialBudget(t *testing.T) {
	m, fc, ev := newManager(t)
	for i := 0; i < 5; i++ {
		m.ConsumeRefresh("v1", "test")
	}
	m.OnDegradationApplied("v1", ActionQualityStepDown)

	rec, _ := m.Snapshot("v1")
	assert.Equal(t, StateDegraded, rec.State)
	assert.Equal(t, 2, rec.RemainingBudget)
	assert.Equal(t, 1, rec.QualityStepDowns)
	assert.Equal(t, fc.Now(), rec.LastDegradedAt)
	assert.Contains(t, ev.states, "v1:EXHAUSTED->DEGRADED")
}

func TestDegradationAppliedKeepsLargerBudget(t *testing.T) {
	m, _, _ := newManager(t)
	m.ConsumeRefresh("v1", "test")
	m.OnDegradationApplied("v1", ActionSwitchToMuxed)

	rec, _ := m.Snapshot("v1")
	assert.Equal(t, 4, rec.RemainingBudget)
	assert.Equal(t, StateDegraded, rec.State)
}

func TestPlaybackSuccessRestoresAfterWindow(t *testing.T) {
	m, fc, ev := newManager(t)
	for i := 0; i < 5; i++ {
		m.ConsumeRefresh("v1", "test")
	}
	m.OnDegradationApplied("v1", ActionQualityStepDown)

	fc.Advance(60 * time.Second)
	m.OnPlaybackSuccess("v1")
	assert.Equal(t, StateDegraded, m.State("v1"), "window is exclusive")

	fc.Advance(time.Millisecond)
	m.OnPlaybackSuccess("v1")
	rec, _ := m.Snapshot("v1")
	assert.Equal(t, StateHealthy, rec.State)
	assert.Equal(t, 5, rec.RemainingBudget)
	assert.Equal(t, fc.Now(), rec.LastSuccessAt)
	assert.Equal(t, 1, rec.QualityStepDowns, "applied fallbacks are remembered")
	assert.Equal(t, "v1:DEGRADED->HEALTHY", ev.states[len(ev.states)-1])
}

func TestPlaybackSuccessWithinWindowKeepsConsumedDegradation(t *testing.T) {
	m, fc, _ := newManager(t)
	start := fc.Now()
	for i := 0; i < 3; i++ {
		m.ConsumeRefresh("v1", "url_expired")
	}
	rec, _ := m.Snapshot("v1")
	require.Equal(t, StateDegraded, rec.State)
	require.Equal(t, 2, rec.RemainingBudget)
	assert.Equal(t, start, rec.LastDegradedAt)

	fc.Advance(time.Second)
	m.OnPlaybackSuccess("v1")
	rec, _ = m.Snapshot("v1")
	assert.Equal(t, StateDegraded, rec.State)
	assert.Equal(t, 2, rec.RemainingBudget)

	// Further consumes while degraded do not push the window out.
	m.ConsumeRefresh("v1", "url_expired")
	fc.Advance(60 * time.Second)
	m.OnPlaybackSuccess("v1")
	assert.Equal(t, StateHealthy, m.State("v1"))
}

func TestPlaybackSuccessDoesNotLeaveExhausted(t *testing.T) {
	m, fc, _ := newManager(t)
	for i := 0; i < 5; i++ {
		m.ConsumeRefresh("v1", "test")
	}
	fc.Advance(10 * time.Minute)
	m.OnPlaybackSuccess("v1")
	assert.Equal(t, StateExhausted, m.State("v1"))
}

func TestPlaybackSuccessUntrackedIsNoop(t *testing.T) {
	m, _, ev := newManager(t)
	m.OnPlaybackSuccess("ghost")
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, ev.states)
}

func TestVideosAreIndependent(t *testing.T) {
	m, _, _ := newManager(t)
	for i := 0; i < 5; i++ {
		m.ConsumeRefresh("a", "test")
	}
	m.ConsumeRefresh("b", "test")

	assert.Equal(t, StateExhausted, m.State("a"))
	assert.Equal(t, StateHealthy, m.State("b"))
	assert.Equal(t, StateHealthy, m.State("c"))
	assert.Len(t, m.Snapshots(), 2)
}

func TestResetAndClear(t *testing.T) {
	m, _, _ := newManager(t)
	m.ConsumeRefresh("a", "test")
	m.ConsumeRefresh("b", "test")

	assert.True(t, m.ResetVideo("a"))
	assert.False(t, m.ResetVideo("a"))
	_, ok := m.Snapshot("a")
	assert.False(t, ok)

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxRefreshBudget: 1}.withDefaults()
	assert.Equal(t, 1, cfg.PartialRestore)
	assert.Equal(t, 0.5, cfg.DegradedFraction)

	cfg = Config{}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRefreshBudget)
	assert.Equal(t, 2, cfg.PartialRestore)
	assert.Equal(t, 60*time.Second, cfg.RecoveryWindow)
}

func TestConcurrentConsumers(t *testing.T) {
	m := New(Config{MaxRefreshBudget: 100})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.ConsumeRefresh("v1", "test")
			}
		}()
	}
	wg.Wait()
	rec, _ := m.Snapshot("v1")
	assert.Equal(t, 0, rec.RemainingBudget)
	assert.Equal(t, StateExhausted, rec.State)
}
