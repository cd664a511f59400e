// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/failure"
)

// recorder implements both Listener and Player and logs every call.
type recorder struct {
	mu     sync.Mutex
	events []string
	pos    time.Duration
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) OnRecoveryStarted(step Step, attempt int) { r.add("started %s %d", step, attempt) }
func (r *recorder) OnRecoverySucceeded()                     { r.add("succeeded") }
func (r *recorder) OnRecoveryExhausted()                     { r.add("exhausted") }
func (r *recorder) OnRequestStreamRefresh(p time.Duration)   { r.add("refresh %s", p) }
func (r *recorder) RePrepare()                               { r.add("reprepare") }
func (r *recorder) SeekTo(p time.Duration)                   { r.add("seek %s", p) }
func (r *recorder) RebuildMediaSource()                      { r.add("rebuild") }
func (r *recorder) Position() time.Duration                  { return r.pos }

func newMachine(t *testing.T) (*Machine, *recorder, *clock.Fake) {
	t.Helper()
	rec := &recorder{pos: 42 * time.Second}
	fc := clock.NewFake(time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC))
	m := New(DefaultConfig(), rec, rec, WithClock(fc))
	t.Cleanup(m.Release)
	return m, rec, fc
}

func TestStepFor(t *testing.T) {
	assert.Equal(t, StepNone, StepFor(0))
	assert.Equal(t, StepRePrepare, StepFor(1))
	assert.Equal(t, StepSeekToCurrent, StepFor(2))
	assert.Equal(t, StepRebuildSource, StepFor(3))
	assert.Equal(t, StepRefreshStream, StepFor(4))
	assert.Equal(t, StepRefreshStream, StepFor(9))
}

func TestSustainedStallEscalatesThenExhausts(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlayerStateChanged(PlayerBuffering, true)

	want := [][]string{
		{"started re_prepare 1", "reprepare"},
		{"started seek_to_current 2", "seek 42s"},
		{"started rebuild_source 3", "rebuild"},
		{"started refresh_stream 4", "refresh 42s"},
		{"started refresh_stream 5", "refresh 42s"},
		{"exhausted"},
	}
	for i, w := range want {
		fc.Advance(15 * time.Second)
		assert.Equal(t, w, rec.take(), "escalation %d", i+1)
	}

	fc.Advance(time.Minute)
	assert.Empty(t, rec.take())
	assert.Equal(t, StateExhausted, m.Snapshot().State)
}

func TestShortStallDoesNothing(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlayerStateChanged(PlayerBuffering, true)
	fc.Advance(14 * time.Second)
	m.OnPlayerStateChanged(PlayerReady, true)
	fc.Advance(time.Minute)

	assert.Empty(t, rec.take())
	assert.Equal(t, StateIdle, m.Snapshot().State)
}

func TestStallWhilePausedIsIgnored(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlayerStateChanged(PlayerBuffering, false)

	assert.Equal(t, 0, fc.Pending())
	fc.Advance(time.Minute)
	assert.Empty(t, rec.take())
}

func TestReadyAfterRecoveryReportsSuccess(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlayerStateChanged(PlayerBuffering, true)
	fc.Advance(15 * time.Second)
	rec.take()

	m.OnPlayerStateChanged(PlayerReady, true)
	assert.Equal(t, []string{"succeeded"}, rec.take())

	snap := m.Snapshot()
	assert.Equal(t, StateRecovered, snap.State)
	assert.Equal(t, 0, snap.Attempt)
	assert.Equal(t, 0, fc.Pending())
}

func TestGeoRestrictionIsTerminal(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlaybackError(failure.KindGeoRestricted, 0)
	assert.Equal(t, []string{"exhausted"}, rec.take())

	m.OnPlaybackError(failure.KindNetworkError, 0)
	m.OnPlayerStateChanged(PlayerBuffering, true)
	fc.Advance(time.Minute)
	assert.Empty(t, rec.take())
}

func TestURLExpiryRefreshesImmediatelyUpToBound(t *testing.T) {
	m, rec, _ := newMachine(t)

	for i := 1; i <= 3; i++ {
		m.OnPlaybackError(failure.KindURLExpired, 0)
		assert.Equal(t, []string{fmt.Sprintf("started refresh_stream %d", i), "refresh 42s"}, rec.take())
	}
	m.OnPlaybackError(failure.KindURLExpired, 0)
	assert.Equal(t, []string{"exhausted"}, rec.take())
}

func TestRefusedRefreshRetriesAsAttemptsThenExhausts(t *testing.T) {
	m, rec, fc := newMachine(t)

	m.OnPlaybackError(failure.KindURLExpired, 0)
	rec.take()

	m.OnRefreshFailed(8*time.Second, false)
	fc.Advance(7 * time.Second)
	assert.Empty(t, rec.take())
	fc.Advance(time.Second)
	assert.Equal(t, []string{"started refresh_stream 1", "refresh 42s"}, rec.take())

	for attempt := 2; attempt <= 5; attempt++ {
		m.OnRefreshFailed(0, false)
		fc.Advance(time.Duration(attempt) * 2 * time.Second)
		assert.Equal(t, []string{fmt.Sprintf("started refresh_stream %d", attempt), "refresh 42s"}, rec.take())
	}

	m.OnRefreshFailed(0, false)
	assert.Equal(t, []string{"exhausted"}, rec.take())
	assert.Equal(t, StateExhausted, m.Snapshot().State)
	assert.Equal(t, 0, fc.Pending())
}

func TestBlockedRefreshExhaustsImmediately(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlaybackError(failure.KindURLExpired, 0)
	rec.take()

	m.OnRefreshFailed(5*time.Minute, true)
	assert.Equal(t, []string{"exhausted"}, rec.take())
	assert.Equal(t, 0, fc.Pending())
}

func TestRefreshFailureOutsideRecoveryIsIgnored(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnRefreshFailed(time.Second, true)
	assert.Empty(t, rec.take())
	assert.Equal(t, StateIdle, m.Snapshot().State)
	assert.Equal(t, 0, fc.Pending())
}

func TestURLExpiryCancelsPendingRefreshRetry(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlaybackError(failure.KindURLExpired, 0)
	m.OnRefreshFailed(5*time.Second, false)
	rec.take()

	m.OnPlaybackError(failure.KindURLExpired, 0)
	assert.Equal(t, []string{"started refresh_stream 2", "refresh 42s"}, rec.take())
	fc.Advance(time.Minute)
	assert.Empty(t, rec.take())
}

func TestNilPlayerStepsAreNoops(t *testing.T) {
	rec := &recorder{}
	fc := clock.NewFake(time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC))
	m := New(DefaultConfig(), nil, rec, WithClock(fc))
	t.Cleanup(m.Release)

	m.OnPlayerStateChanged(PlayerBuffering, true)
	for i := 0; i < 4; i++ {
		fc.Advance(15 * time.Second)
	}
	assert.Equal(t, []string{
		"started re_prepare 1",
		"started seek_to_current 2",
		"started rebuild_source 3",
		"started refresh_stream 4",
		"refresh 0s",
	}, rec.take())
}

func TestRateLimitWaitsForRetryAfter(t *testing.T) {
	m, rec, fc := newMachine(t)

	m.OnPlaybackError(failure.KindRateLimited, 30*time.Second)
	fc.Advance(29 * time.Second)
	assert.Empty(t, rec.take())
	fc.Advance(time.Second)
	assert.Equal(t, []string{"started re_prepare 1", "reprepare"}, rec.take())

	m.OnPlaybackError(failure.KindRateLimited, 0)
	fc.Advance(9 * time.Second)
	assert.Empty(t, rec.take())
	fc.Advance(time.Second)
	assert.Equal(t, []string{"started seek_to_current 2", "seek 42s"}, rec.take())
}

func TestGenericErrorsUseLinearBackoff(t *testing.T) {
	m, rec, fc := newMachine(t)

	m.OnPlaybackError(failure.KindNetworkError, 0)
	fc.Advance(2 * time.Second)
	assert.Equal(t, []string{"started re_prepare 1", "reprepare"}, rec.take())

	m.OnPlaybackError(failure.KindHTTPError, 0)
	fc.Advance(3 * time.Second)
	assert.Empty(t, rec.take())
	fc.Advance(time.Second)
	assert.Equal(t, []string{"started seek_to_current 2", "seek 42s"}, rec.take())
}

func TestManualRetryRestartsLadder(t *testing.T) {
	m, rec, _ := newMachine(t)
	m.OnPlaybackError(failure.KindGeoRestricted, 0)
	rec.take()

	m.RequestManualRetry()
	assert.Equal(t, []string{"started re_prepare 1", "reprepare"}, rec.take())
	assert.Equal(t, StateRecovering, m.Snapshot().State)
}

func TestForceRefreshClampsPosition(t *testing.T) {
	m, rec, _ := newMachine(t)
	m.RequestForceRefresh(-5 * time.Second)
	m.RequestForceRefresh(7 * time.Second)
	assert.Equal(t, []string{"refresh 0s", "refresh 7s"}, rec.take())
}

func TestTerminalPlayerStatesResetSilently(t *testing.T) {
	for _, st := range []PlayerState{PlayerEnded, PlayerIdle} {
		t.Run(string(st), func(t *testing.T) {
			m, rec, fc := newMachine(t)
			m.OnPlayerStateChanged(PlayerBuffering, true)
			fc.Advance(15 * time.Second)
			m.OnPlaybackError(failure.KindNetworkError, 0)
			rec.take()

			m.OnPlayerStateChanged(st, false)
			assert.Empty(t, rec.take())
			assert.Equal(t, 0, fc.Pending())

			snap := m.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Equal(t, 0, snap.Attempt)
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, rec, fc := newMachine(t)
	m.OnPlayerStateChanged(PlayerBuffering, true)
	m.OnPlaybackError(failure.KindNetworkError, 0)
	require.Equal(t, 2, fc.Pending())

	m.Release()
	m.Release()
	assert.Equal(t, 0, fc.Pending())

	m.OnPlaybackError(failure.KindURLExpired, 0)
	m.RequestManualRetry()
	m.RequestForceRefresh(time.Second)
	fc.Advance(time.Minute)
	assert.Empty(t, rec.take())
}
