// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recovery drives escalating recovery steps when playback stalls or
// fails.
package recovery

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/failure"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

// Step is one recovery action. Steps escalate in declaration order.
type Step string

const (
	StepNone          Step = ""
	StepRePrepare     Step = "re_prepare"
	StepSeekToCurrent Step = "seek_to_current"
	StepRebuildSource Step = "rebuild_source"
	StepRefreshStream Step = "refresh_stream"
)

var ladder = []Step{StepRePrepare, StepSeekToCurrent, StepRebuildSource, StepRefreshStream}

// StepFor returns the step used for the given 1-based attempt. The last step repeats.
func StepFor(attempt int) Step {
	if attempt <= 0 {
		return StepNone
	}
	if attempt > len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[attempt-1]
}

// State is the machine state.
type State string

const (
	StateIdle       State = "IDLE"
	StateRecovering State = "RECOVERING"
	StateRecovered  State = "RECOVERED"
	StateExhausted  State = "EXHAUSTED"
)

// PlayerState mirrors the playback collaborator's state.
type PlayerState string

const (
	PlayerIdle      PlayerState = "idle"
	PlayerBuffering PlayerState = "buffering"
	PlayerReady     PlayerState = "ready"
	PlayerEnded     PlayerState = "ended"
)

// Listener receives recovery progress. Calls are made without internal locks held.
type Listener interface {
	OnRecoveryStarted(step Step, attempt int)
	OnRecoverySucceeded()
	OnRecoveryExhausted()
	OnRequestStreamRefresh(position time.Duration)
}

// Player executes recovery commands. Position is read under the machine's
// lock and must not call back into it.
type Player interface {
	RePrepare()
	SeekTo(position time.Duration)
	RebuildMediaSource()
	Position() time.Duration
}

// Config bounds recovery.
type Config struct {
	MaxAttempts      int
	StallThreshold   time.Duration
	MaxURLRefreshes  int
	RateLimitDelay   time.Duration
	BackoffIncrement time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		StallThreshold:   15 * time.Second,
		MaxURLRefreshes:  3,
		RateLimitDelay:   10 * time.Second,
		BackoffIncrement: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = d.StallThreshold
	}
	if c.MaxURLRefreshes <= 0 {
		c.MaxURLRefreshes = d.MaxURLRefreshes
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = d.RateLimitDelay
	}
	if c.BackoffIncrement <= 0 {
		c.BackoffIncrement = d.BackoffIncrement
	}
	return c
}

// Record is a snapshot of the machine.
type Record struct {
	State         State     `json:"state"`
	Attempt       int       `json:"attempt"`
	Step          Step      `json:"step,omitempty"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	Adaptive      bool      `json:"adaptive"`
	URLRefreshes  int       `json:"urlRefreshes"`
}

// Machine is the recovery state machine for one playback.
type Machine struct {
	cfg      Config
	clock    clock.Clock
	logger   zerolog.Logger
	listener Listener
	player   Player

	mu            sync.Mutex
	state         State
	attempt       int
	step          Step
	lastAttemptAt time.Time
	adaptive      bool
	urlRefreshes  int
	released      bool

	playerState   PlayerState
	playWhenReady bool

	stallTimer clock.Timer
	retryTimer clock.Timer
	stallToken uint64
	retryToken uint64
	// retryRefresh makes the pending retry re-request a stream refresh
	// instead of escalating.
	retryRefresh bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

type nopPlayer struct{}

func (nopPlayer) RePrepare()              {}
func (nopPlayer) SeekTo(time.Duration)    {}
func (nopPlayer) RebuildMediaSource()     {}
func (nopPlayer) Position() time.Duration { return 0 }

// New creates an idle machine. A nil player turns player steps into no-ops.
func New(cfg Config, player Player, listener Listener, opts ...Option) *Machine {
	if player == nil {
		player = nopPlayer{}
	}
	m := &Machine{
		cfg:         cfg.withDefaults(),
		clock:       clock.Real(),
		logger:      xglog.WithComponent("recovery"),
		listener:    listener,
		player:      player,
		state:       StateIdle,
		playerState: PlayerIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetAdaptive records whether the current source is adaptive.
func (m *Machine) SetAdaptive(adaptive bool) {
	m.mu.Lock()
	m.adaptive = adaptive
	m.mu.Unlock()
}

// Snapshot returns the current record.
func (m *Machine) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Record{
		State:         m.state,
		Attempt:       m.attempt,
		Step:          m.step,
		LastAttemptAt: m.lastAttemptAt,
		Adaptive:      m.adaptive,
		URLRefreshes:  m.urlRefreshes,
	}
}

// OnPlayerStateChanged feeds player transitions into the machine.
func (m *Machine) OnPlayerStateChanged(state PlayerState, playWhenReady bool) {
	var calls []func()

	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.playerState, m.playWhenReady = state, playWhenReady

	switch state {
	case PlayerBuffering:
		if playWhenReady {
			if m.stallTimer == nil && m.state != StateExhausted {
				m.armStallLocked()
			}
		} else {
			m.stopStallLocked()
		}
	case PlayerReady:
		m.stopStallLocked()
		if m.state == StateRecovering {
			m.stopRetryLocked()
			m.state = StateRecovered
			attempt := m.attempt
			m.attempt, m.urlRefreshes = 0, 0
			m.step = StepNone
			metrics.IncRecoveryOutcome("recovered")
			m.logger.Info().
				Str(xglog.FieldEvent, "recovery.succeeded").
				Int(xglog.FieldAttempt, attempt).
				Msg("playback recovered")
			calls = append(calls, m.listener.OnRecoverySucceeded)
		}
	case PlayerEnded, PlayerIdle:
		m.resetLocked()
	}
	m.mu.Unlock()

	run(calls)
}

// OnPlaybackError applies the retry policy for a classified failure.
// retryAfter is the server-provided delay for rate limiting, or zero.
func (m *Machine) OnPlaybackError(kind failure.Kind, retryAfter time.Duration) {
	var calls []func()

	m.mu.Lock()
	if m.released || m.state == StateExhausted {
		m.mu.Unlock()
		return
	}

	logger := m.logger.With().Str(xglog.FieldKind, string(kind)).Logger()

	switch kind {
	case failure.KindGeoRestricted:
		calls = m.exhaustLocked("geo_restricted")

	case failure.KindURLExpired:
		if m.urlRefreshes >= m.cfg.MaxURLRefreshes {
			calls = m.exhaustLocked("url_refreshes_exhausted")
			break
		}
		m.stopRetryLocked()
		m.urlRefreshes++
		m.state = StateRecovering
		m.step = StepRefreshStream
		m.lastAttemptAt = m.clock.Now()
		n := m.urlRefreshes
		pos := m.position()
		metrics.IncRecoveryAttempt(string(StepRefreshStream))
		logger.Info().
			Str(xglog.FieldEvent, "recovery.url_refresh").
			Int(xglog.FieldAttempt, n).
			Msg("stream URL expired, refreshing")
		calls = append(calls,
			func() { m.listener.OnRecoveryStarted(StepRefreshStream, n) },
			func() { m.listener.OnRequestStreamRefresh(pos) },
		)

	case failure.KindRateLimited:
		delay := retryAfter
		if delay <= 0 {
			delay = m.cfg.RateLimitDelay
		}
		m.scheduleRetryLocked(delay)
		logger.Info().
			Str(xglog.FieldEvent, "recovery.retry_scheduled").
			Dur(xglog.FieldRetryAfter, delay).
			Msg("rate limited, retry scheduled")

	default:
		delay := time.Duration(m.attempt+1) * m.cfg.BackoffIncrement
		m.scheduleRetryLocked(delay)
		logger.Info().
			Str(xglog.FieldEvent, "recovery.retry_scheduled").
			Dur(xglog.FieldRetryAfter, delay).
			Msg("playback error, retry scheduled")
	}
	m.mu.Unlock()

	run(calls)
}

// OnRefreshFailed reports that a stream refresh requested by the machine did
// not happen. A permanent refusal ends recovery. Otherwise the refresh is
// requested again after retryAfter (or the linear backoff when zero); each
// retry counts as an attempt.
func (m *Machine) OnRefreshFailed(retryAfter time.Duration, permanent bool) {
	var calls []func()

	m.mu.Lock()
	if m.released || m.state != StateRecovering {
		m.mu.Unlock()
		return
	}
	switch {
	case permanent:
		calls = m.exhaustLocked("refresh_refused")
	case m.attempt >= m.cfg.MaxAttempts:
		calls = m.exhaustLocked("max_attempts")
	default:
		delay := retryAfter
		if delay <= 0 {
			delay = time.Duration(m.attempt+1) * m.cfg.BackoffIncrement
		}
		m.scheduleRetryLocked(delay)
		m.retryRefresh = true
		m.logger.Info().
			Str(xglog.FieldEvent, "recovery.refresh_retry_scheduled").
			Dur(xglog.FieldRetryAfter, delay).
			Msg("stream refresh refused, retry scheduled")
	}
	m.mu.Unlock()

	run(calls)
}

// RequestManualRetry restarts recovery from the first step.
func (m *Machine) RequestManualRetry() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	calls := m.escalateLocked()
	m.mu.Unlock()

	run(calls)
}

// RequestForceRefresh asks for fresh stream URLs, resuming at position.
func (m *Machine) RequestForceRefresh(position time.Duration) {
	if position < 0 {
		position = 0
	}
	m.mu.Lock()
	released := m.released
	m.mu.Unlock()
	if released {
		return
	}
	m.listener.OnRequestStreamRefresh(position)
}

// Release stops all timers. Later events are ignored.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	m.stopStallLocked()
	m.stopRetryLocked()
}

func (m *Machine) resetLocked() {
	m.stopStallLocked()
	m.stopRetryLocked()
	m.state = StateIdle
	m.attempt = 0
	m.step = StepNone
	m.urlRefreshes = 0
}

func (m *Machine) armStallLocked() {
	m.stallToken++
	tok := m.stallToken
	m.stallTimer = m.clock.AfterFunc(m.cfg.StallThreshold, func() { m.fire(tok, true) })
}

func (m *Machine) scheduleRetryLocked(delay time.Duration) {
	m.stopRetryLocked()
	m.retryToken++
	tok := m.retryToken
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.fire(tok, false) })
}

func (m *Machine) stopStallLocked() {
	if m.stallTimer != nil {
		m.stallTimer.Stop()
		m.stallTimer = nil
	}
}

func (m *Machine) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryRefresh = false
}

func (m *Machine) fire(tok uint64, stall bool) {
	m.mu.Lock()
	if m.released || m.state == StateExhausted {
		m.mu.Unlock()
		return
	}
	if stall {
		if m.stallTimer == nil || m.stallToken != tok {
			m.mu.Unlock()
			return
		}
		m.stallTimer = nil
		m.logger.Warn().
			Str(xglog.FieldEvent, "recovery.stall").
			Dur("threshold", m.cfg.StallThreshold).
			Msg("playback stalled")
	} else {
		if m.retryTimer == nil || m.retryToken != tok {
			m.mu.Unlock()
			return
		}
		m.retryTimer = nil
		if m.retryRefresh {
			m.retryRefresh = false
			calls := m.refreshAgainLocked()
			m.mu.Unlock()
			run(calls)
			return
		}
	}
	calls := m.escalateLocked()
	m.mu.Unlock()

	run(calls)
}

// escalateLocked runs the next step, or exhausts when attempts are spent.
func (m *Machine) escalateLocked() []func() {
	if m.attempt >= m.cfg.MaxAttempts {
		return m.exhaustLocked("max_attempts")
	}
	m.attempt++
	m.step = StepFor(m.attempt)
	m.state = StateRecovering
	m.lastAttemptAt = m.clock.Now()

	step, attempt := m.step, m.attempt
	pos := m.position()
	metrics.IncRecoveryAttempt(string(step))
	m.logger.Info().
		Str(xglog.FieldEvent, "recovery.step").
		Str(xglog.FieldStep, string(step)).
		Int(xglog.FieldAttempt, attempt).
		Int64(xglog.FieldPosition, pos.Milliseconds()).
		Msg("recovery step started")

	calls := []func(){func() { m.listener.OnRecoveryStarted(step, attempt) }}
	switch step {
	case StepRePrepare:
		calls = append(calls, m.player.RePrepare)
	case StepSeekToCurrent:
		calls = append(calls, func() { m.player.SeekTo(pos) })
	case StepRebuildSource:
		calls = append(calls, m.player.RebuildMediaSource)
	case StepRefreshStream:
		calls = append(calls, func() { m.listener.OnRequestStreamRefresh(pos) })
	}

	// A stall that persists through this step escalates again.
	if m.playerState == PlayerBuffering && m.playWhenReady {
		m.stopStallLocked()
		m.armStallLocked()
	}
	return calls
}

// refreshAgainLocked re-requests a refused stream refresh as a new attempt.
func (m *Machine) refreshAgainLocked() []func() {
	if m.attempt >= m.cfg.MaxAttempts {
		return m.exhaustLocked("max_attempts")
	}
	m.attempt++
	m.step = StepRefreshStream
	m.lastAttemptAt = m.clock.Now()

	attempt, pos := m.attempt, m.position()
	metrics.IncRecoveryAttempt(string(StepRefreshStream))
	m.logger.Info().
		Str(xglog.FieldEvent, "recovery.step").
		Str(xglog.FieldStep, string(StepRefreshStream)).
		Int(xglog.FieldAttempt, attempt).
		Int64(xglog.FieldPosition, pos.Milliseconds()).
		Msg("retrying refused stream refresh")
	return []func(){
		func() { m.listener.OnRecoveryStarted(StepRefreshStream, attempt) },
		func() { m.listener.OnRequestStreamRefresh(pos) },
	}
}

func (m *Machine) exhaustLocked(reason string) []func() {
	m.stopStallLocked()
	m.stopRetryLocked()
	m.state = StateExhausted
	metrics.IncRecoveryOutcome("exhausted")
	m.logger.Warn().
		Str(xglog.FieldEvent, "recovery.exhausted").
		Str("reason", reason).
		Int(xglog.FieldAttempt, m.attempt).
		Msg("stream unavailable")
	return []func(){m.listener.OnRecoveryExhausted}
}

func (m *Machine) position() time.Duration {
	pos := m.player.Position()
	if pos < 0 {
		return 0
	}
	return pos
}

func run(calls []func()) {
	for _, f := range calls {
		f()
	}
}
