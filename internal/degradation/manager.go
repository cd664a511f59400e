// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package degradation tracks a per-video budget of stream refreshes and picks
// progressively more drastic fallbacks once it runs out.
package degradation

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

type State string

const (
	StateHealthy   State = "HEALTHY"
	StateDegraded  State = "DEGRADED"
	StateExhausted State = "EXHAUSTED"
)

type Action string

const (
	ActionNone             Action = "none"
	ActionQualityStepDown  Action = "quality_step_down"
	ActionSwitchToMuxed    Action = "switch_to_muxed"
	ActionForceHLSFallback Action = "force_hls_fallback"
)

// Config bounds the budget.
type Config struct {
	MaxRefreshBudget int
	// DegradedFraction of MaxRefreshBudget below which a video is DEGRADED.
	DegradedFraction    float64
	MaxQualityStepDowns int
	// RecoveryWindow is how long after the last degradation a successful
	// playback restores HEALTHY.
	RecoveryWindow time.Duration
	// PartialRestore is the budget granted after a degradation is applied.
	// Zero means half of MaxRefreshBudget, at least one.
	PartialRestore int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRefreshBudget:    5,
		DegradedFraction:    0.5,
		MaxQualityStepDowns: 2,
		RecoveryWindow:      60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRefreshBudget <= 0 {
		c.MaxRefreshBudget = d.MaxRefreshBudget
	}
	if c.DegradedFraction <= 0 || c.DegradedFraction > 1 {
		c.DegradedFraction = d.DegradedFraction
	}
	if c.MaxQualityStepDowns < 0 {
		c.MaxQualityStepDowns = d.MaxQualityStepDowns
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = d.RecoveryWindow
	}
	if c.PartialRestore <= 0 {
		c.PartialRestore = c.MaxRefreshBudget / 2
	}
	if c.PartialRestore < 1 {
		c.PartialRestore = 1
	}
	if c.PartialRestore > c.MaxRefreshBudget {
		c.PartialRestore = c.MaxRefreshBudget
	}
	return c
}

// Record is the tracked state of one video.
type Record struct {
	VideoID            string    `json:"videoId"`
	State              State     `json:"state"`
	RemainingBudget    int       `json:"remainingBudget"`
	QualityStepDowns   int       `json:"qualityStepDowns"`
	SwitchedToMuxed    bool      `json:"switchedToMuxed"`
	HLSFallbackApplied bool      `json:"hlsFallbackApplied"`
	LastSuccessAt      time.Time `json:"lastSuccessAt,omitempty"`
	LastDegradedAt     time.Time `json:"lastDegradedAt,omitempty"`
}

// Listener receives budget events. Calls are made outside any map operation.
type Listener interface {
	OnStateChanged(videoID string, from, to State)
	OnDegradationRequired(videoID string, action Action)
	OnBudgetLow(videoID string, remaining int)
}

type noopListener struct{}

func (noopListener) OnStateChanged(string, State, State)  {}
func (noopListener) OnDegradationRequired(string, Action) {}
func (noopListener) OnBudgetLow(string, int)              {}

// Manager holds independent budgets per video.
type Manager struct {
	cfg      Config
	clock    clock.Clock
	logger   zerolog.Logger
	listener Listener

	records *xsync.Map[string, Record]
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithListener registers the event listener.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.listener = l
		}
	}
}

// New creates a manager.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		clock:    clock.Real(),
		logger:   xglog.WithComponent("degradation"),
		listener: noopListener{},
		records:  xsync.NewMap[string, Record](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) fresh(videoID string) Record {
	return Record{VideoID: videoID, State: StateHealthy, RemainingBudget: m.cfg.MaxRefreshBudget}
}

func (m *Manager) lowWater() float64 {
	return m.cfg.DegradedFraction * float64(m.cfg.MaxRefreshBudget)
}

// ConsumeRefresh spends one refresh for videoID. Once the budget is empty it
// returns the next fallback to apply, or ActionNone when none are left.
func (m *Manager) ConsumeRefresh(videoID, reason string) Action {
	now := m.clock.Now()
	var (
		before, after Record
		action        = ActionNone
	)
	m.records.Compute(videoID, func(cur Record, loaded bool) (Record, xsync.ComputeOp) {
		if !loaded {
			cur = m.fresh(videoID)
		}
		before = cur
		if cur.RemainingBudget > 0 {
			cur.RemainingBudget--
		}
		switch {
		case cur.RemainingBudget == 0:
			cur.State = StateExhausted
			action = m.nextAction(cur)
		case float64(cur.RemainingBudget) < m.lowWater() && cur.State == StateHealthy:
			cur.State = StateDegraded
		}
		// The recovery window runs from the moment the video left HEALTHY.
		if before.State == StateHealthy && cur.State != StateHealthy {
			cur.LastDegradedAt = now
		}
		after = cur
		return cur, xsync.UpdateOp
	})

	m.logger.Debug().
		Str(xglog.FieldEvent, "degradation.consume").
		Str(xglog.FieldVideoID, videoID).
		Str("reason", reason).
		Int(xglog.FieldRemaining, after.RemainingBudget).
		Str(xglog.FieldAction, string(action)).
		Msg("refresh budget consumed")

	m.notifyTransition(videoID, before.State, after.State)
	if action != ActionNone {
		metrics.IncDegradationAction(string(action))
		m.logger.Info().
			Str(xglog.FieldEvent, "degradation.required").
			Str(xglog.FieldVideoID, videoID).
			Str(xglog.FieldAction, string(action)).
			Msg("refresh budget exhausted, fallback required")
		m.listener.OnDegradationRequired(videoID, action)
	}
	if after.RemainingBudget > 0 && float64(after.RemainingBudget) < m.lowWater() {
		m.listener.OnBudgetLow(videoID, after.RemainingBudget)
	}
	return action
}

func (m *Manager) nextAction(r Record) Action {
	switch {
	case r.QualityStepDowns < m.cfg.MaxQualityStepDowns:
		return ActionQualityStepDown
	case !r.SwitchedToMuxed:
		return ActionSwitchToMuxed
	case !r.HLSFallbackApplied:
		return ActionForceHLSFallback
	default:
		return ActionNone
	}
}

// OnDegradationApplied records that action was carried out and grants a
// partial budget.
func (m *Manager) OnDegradationApplied(videoID string, action Action) {
	if action == ActionNone {
		return
	}
	now := m.clock.Now()
	var before, after Record
	m.records.Compute(videoID, func(cur Record, loaded bool) (Record, xsync.ComputeOp) {
		if !loaded {
			cur = m.fresh(videoID)
		}
		before = cur
		switch action {
		case ActionQualityStepDown:
			cur.QualityStepDowns++
		case ActionSwitchToMuxed:
			cur.SwitchedToMuxed = true
		case ActionForceHLSFallback:
			cur.HLSFallbackApplied = true
		}
		if cur.RemainingBudget < m.cfg.PartialRestore {
			cur.RemainingBudget = m.cfg.PartialRestore
		}
		cur.State = StateDegraded
		cur.LastDegradedAt = now
		after = cur
		return cur, xsync.UpdateOp
	})

	m.logger.Info().
		Str(xglog.FieldEvent, "degradation.applied").
		Str(xglog.FieldVideoID, videoID).
		Str(xglog.FieldAction, string(action)).
		Int(xglog.FieldRemaining, after.RemainingBudget).
		Msg("degradation applied, partial budget restored")
	m.notifyTransition(videoID, before.State, after.State)
}

// OnPlaybackSuccess stamps a successful playback. A DEGRADED video returns to
// HEALTHY with a full budget once the recovery window has passed since the
// last degradation.
func (m *Manager) OnPlaybackSuccess(videoID string) {
	now := m.clock.Now()
	var before, after Record
	_, ok := m.records.Compute(videoID, func(cur Record, loaded bool) (Record, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		before = cur
		cur.LastSuccessAt = now
		if cur.State == StateDegraded && now.Sub(cur.LastDegradedAt) > m.cfg.RecoveryWindow {
			cur.State = StateHealthy
			cur.RemainingBudget = m.cfg.MaxRefreshBudget
		}
		after = cur
		return cur, xsync.UpdateOp
	})
	if ok {
		m.notifyTransition(videoID, before.State, after.State)
	}
}

func (m *Manager) notifyTransition(videoID string, from, to State) {
	if from == to {
		return
	}
	metrics.IncDegradationTransition(string(to))
	m.logger.Info().
		Str(xglog.FieldEvent, "degradation.state_changed").
		Str(xglog.FieldVideoID, videoID).
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Msg("degradation state changed")
	m.listener.OnStateChanged(videoID, from, to)
}

// Snapshot returns the record for videoID.
func (m *Manager) Snapshot(videoID string) (Record, bool) {
	return m.records.Load(videoID)
}

// Snapshots returns every tracked record.
func (m *Manager) Snapshots() []Record {
	out := make([]Record, 0, m.records.Size())
	m.records.Range(func(_ string, r Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

// State returns the state of videoID; untracked videos are HEALTHY.
func (m *Manager) State(videoID string) State {
	if r, ok := m.records.Load(videoID); ok {
		return r.State
	}
	return StateHealthy
}

// ResetVideo forgets videoID.
func (m *Manager) ResetVideo(videoID string) bool {
	_, ok := m.records.LoadAndDelete(videoID)
	return ok
}

// Clear forgets every video.
func (m *Manager) Clear() {
	m.records.Clear()
}

// Len returns the number of tracked videos.
func (m *Manager) Len() int {
	return m.records.Size()
}
