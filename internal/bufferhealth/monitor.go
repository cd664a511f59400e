// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bufferhealth watches the buffered-ahead duration of progressive
// playback and asks for a lower quality before the buffer runs dry.
package bufferhealth

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

// Config tunes the monitor.
type Config struct {
	SampleInterval    time.Duration
	GracePeriod       time.Duration
	CriticalThreshold time.Duration
	// MinDropPerSample is how much the buffer must shrink between two samples
	// to count as declining.
	MinDropPerSample time.Duration
	// DecliningSamples is how many consecutive declining samples are required.
	DecliningSamples int
	Cooldown         time.Duration
	MaxDownshifts    int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    time.Second,
		GracePeriod:       10 * time.Second,
		CriticalThreshold: 5 * time.Second,
		MinDropPerSample:  250 * time.Millisecond,
		DecliningSamples:  2,
		Cooldown:          30 * time.Second,
		MaxDownshifts:     3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.MinDropPerSample < 0 {
		c.MinDropPerSample = d.MinDropPerSample
	}
	if c.DecliningSamples <= 0 {
		c.DecliningSamples = d.DecliningSamples
	}
	if c.Cooldown < 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxDownshifts <= 0 {
		c.MaxDownshifts = d.MaxDownshifts
	}
	return c
}

// Source reports playback buffer state.
type Source interface {
	BufferedAhead() time.Duration
	Playing() bool
}

// DownshiftFunc asks the playback layer to drop one quality step. It reports
// whether the downshift was applied.
type DownshiftFunc func() bool

// Monitor samples one stream at a time.
type Monitor struct {
	cfg         Config
	clock       clock.Clock
	logger      zerolog.Logger
	source      Source
	onDownshift DownshiftFunc

	mu            sync.Mutex
	gen           uint64
	active        bool
	startedAt     time.Time
	cooldownUntil time.Time
	downshifts    int
	last          time.Duration
	haveLast      bool
	declining     int
	timer         clock.Timer
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New creates an idle monitor. Call StartStream to begin sampling.
func New(cfg Config, source Source, onDownshift DownshiftFunc, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:         cfg.withDefaults(),
		clock:       clock.Real(),
		logger:      xglog.WithComponent("bufferhealth"),
		source:      source,
		onDownshift: onDownshift,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartStream resets all per-stream state. Adaptive streams are not monitored.
func (m *Monitor) StartStream(adaptive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.downshifts = 0
	m.cooldownUntil = time.Time{}
	m.startedAt = m.clock.Now()
	m.haveLast = false
	m.declining = 0
	if adaptive {
		return
	}
	m.active = true
	m.armLocked()
}

// Stop halts sampling. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

func (m *Monitor) stopLocked() {
	m.gen++
	m.active = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) armLocked() {
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.cfg.SampleInterval, func() { m.tick(gen) })
}

func (m *Monitor) tick(gen uint64) {
	m.Sample()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active && m.gen == gen {
		m.armLocked()
	}
}

// CanProactiveDownshift reports whether the per-stream cap still allows a downshift.
func (m *Monitor) CanProactiveDownshift() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downshifts < m.cfg.MaxDownshifts
}

// Downshifts returns how many downshifts were applied to the current stream.
func (m *Monitor) Downshifts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downshifts
}

// Sample takes one measurement and requests a downshift when warranted.
func (m *Monitor) Sample() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	if !m.source.Playing() {
		m.haveLast = false
		m.declining = 0
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	buffered := m.source.BufferedAhead()
	if m.haveLast && m.last-buffered > m.cfg.MinDropPerSample {
		m.declining++
	} else {
		m.declining = 0
	}
	m.last, m.haveLast = buffered, true

	if !m.shouldDownshiftLocked(now, buffered) {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	declining := m.declining
	m.mu.Unlock()

	accepted := m.onDownshift != nil && m.onDownshift()

	m.mu.Lock()
	if accepted && m.gen == gen {
		m.downshifts++
		m.cooldownUntil = now.Add(m.cfg.Cooldown)
		m.declining = 0
	}
	count := m.downshifts
	m.mu.Unlock()

	result := "rejected"
	if accepted {
		result = "accepted"
	}
	metrics.IncBufferDownshift(result)
	m.logger.Info().
		Str(xglog.FieldEvent, "bufferhealth.downshift").
		Str(xglog.FieldOutcome, result).
		Dur("buffered", buffered).
		Int("declining_samples", declining).
		Int("downshifts", count).
		Msg("buffer critical, requested proactive downshift")
}

func (m *Monitor) shouldDownshiftLocked(now time.Time, buffered time.Duration) bool {
	switch {
	case now.Sub(m.startedAt) < m.cfg.GracePeriod:
		return false
	case m.downshifts >= m.cfg.MaxDownshifts:
		return false
	case now.Before(m.cooldownUntil):
		return false
	case buffered >= m.cfg.CriticalThreshold:
		return false
	default:
		return m.declining >= m.cfg.DecliningSamples
	}
}
