// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit budgets stream resolution attempts per video and globally.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

// Kind identifies who initiated a resolution attempt.
type Kind string

const (
	KindManual       Kind = "manual"
	KindPrefetch     Kind = "prefetch"
	KindAutoRecovery Kind = "auto_recovery"
)

// Outcome is the limiter verdict.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDelayed Outcome = "delayed"
	OutcomeBlocked Outcome = "blocked"
)

// Decision is the result of Acquire. Delay is how long the caller should wait
// before asking again; for Blocked it is the time until the window rolls.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
}

// Allowed reports whether the attempt may proceed now.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllowed }

// Config holds rate limiting configuration
type Config struct {
	// Per-key budget shared by MANUAL and PREFETCH
	PerKeyMax    int
	PerKeyWindow time.Duration

	// Reserved per-key budget for AUTO_RECOVERY, counted over PerKeyWindow
	RecoveryPerKeyMax int

	// Global budget for MANUAL and PREFETCH
	GlobalMax    int
	GlobalWindow time.Duration

	// Minimum spacing between two attempts of the same kind on one key
	ManualMinInterval   time.Duration
	PrefetchMinInterval time.Duration
	RecoveryMinInterval time.Duration

	// Exponential backoff on consecutive MANUAL attempts
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// PREFETCH is refused once the remaining per-key budget is at or below this
	PrefetchReserve int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PerKeyMax:           3,
		PerKeyWindow:        5 * time.Minute,
		RecoveryPerKeyMax:   2,
		GlobalMax:           10,
		GlobalWindow:        time.Minute,
		ManualMinInterval:   30 * time.Second,
		PrefetchMinInterval: 30 * time.Second,
		RecoveryMinInterval: 10 * time.Second,
		BackoffBase:         2 * time.Second,
		BackoffMax:          60 * time.Second,
		PrefetchReserve:     1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PerKeyMax <= 0 {
		c.PerKeyMax = d.PerKeyMax
	}
	if c.PerKeyWindow <= 0 {
		c.PerKeyWindow = d.PerKeyWindow
	}
	if c.RecoveryPerKeyMax <= 0 {
		c.RecoveryPerKeyMax = d.RecoveryPerKeyMax
	}
	if c.GlobalMax <= 0 {
		c.GlobalMax = d.GlobalMax
	}
	if c.GlobalWindow <= 0 {
		c.GlobalWindow = d.GlobalWindow
	}
	if c.ManualMinInterval < 0 {
		c.ManualMinInterval = d.ManualMinInterval
	}
	if c.PrefetchMinInterval < 0 {
		c.PrefetchMinInterval = d.PrefetchMinInterval
	}
	if c.RecoveryMinInterval < 0 {
		c.RecoveryMinInterval = d.RecoveryMinInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.PrefetchReserve < 0 {
		c.PrefetchReserve = 0
	}
	return c
}

type keyState struct {
	normal            []time.Time
	recovery          []time.Time
	last              map[Kind]time.Time
	consecutiveManual int
}

// Limiter manages attempt budgets for stream resolution.
type Limiter struct {
	config Config
	clock  clock.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	keys   map[string]*keyState
	global []time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a new rate limiter with the given config
func New(config Config, opts ...Option) *Limiter {
	l := &Limiter{
		config: config.withDefaults(),
		clock:  clock.Real(),
		logger: xglog.WithComponent("ratelimit"),
		keys:   make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire decides whether an attempt of kind on key may run now and, if so,
// charges it against the relevant budgets.
func (l *Limiter) Acquire(key string, kind Kind) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	d := l.acquireLocked(key, kind, now)
	l.mu.Unlock()

	metrics.IncRateLimitDecision(string(kind), string(d.Outcome))
	if !d.Allowed() {
		l.logger.Debug().
			Str(xglog.FieldEvent, "ratelimit.refused").
			Str(xglog.FieldVideoID, key).
			Str(xglog.FieldKind, string(kind)).
			Str(xglog.FieldOutcome, string(d.Outcome)).
			Dur(xglog.FieldRetryAfter, d.Delay).
			Msg("resolution attempt refused")
	}
	return d
}

func (l *Limiter) acquireLocked(key string, kind Kind, now time.Time) Decision {
	cfg := l.config
	l.global = prune(l.global, now, cfg.GlobalWindow)
	st := l.stateLocked(key)
	st.normal = prune(st.normal, now, cfg.PerKeyWindow)
	st.recovery = prune(st.recovery, now, cfg.PerKeyWindow)

	if kind == KindAutoRecovery {
		if len(st.recovery) >= cfg.RecoveryPerKeyMax {
			return Decision{Outcome: OutcomeBlocked, Delay: untilRoll(st.recovery, now, cfg.PerKeyWindow)}
		}
		// The first recovery attempt on a key skips the interval.
		if last, ok := st.last[kind]; ok {
			if wait := cfg.RecoveryMinInterval - now.Sub(last); wait > 0 {
				return Decision{Outcome: OutcomeDelayed, Delay: wait}
			}
		}
		st.recovery = append(st.recovery, now)
		st.last[kind] = now
		return Decision{Outcome: OutcomeAllowed}
	}

	if kind != KindPrefetch {
		kind = KindManual
	}

	used := len(st.normal)
	if used >= cfg.PerKeyMax {
		return Decision{Outcome: OutcomeBlocked, Delay: untilRoll(st.normal, now, cfg.PerKeyWindow)}
	}
	if kind == KindPrefetch && cfg.PerKeyMax-used <= cfg.PrefetchReserve {
		return Decision{Outcome: OutcomeBlocked, Delay: untilRoll(st.normal, now, cfg.PerKeyWindow)}
	}

	if last, ok := st.last[kind]; ok {
		required := cfg.PrefetchMinInterval
		if kind == KindManual {
			required = cfg.ManualMinInterval
			if b := l.backoff(st.consecutiveManual); b > required {
				required = b
			}
		}
		if wait := required - now.Sub(last); wait > 0 {
			return Decision{Outcome: OutcomeDelayed, Delay: wait}
		}
	}

	if len(l.global) >= cfg.GlobalMax {
		return Decision{Outcome: OutcomeDelayed, Delay: untilRoll(l.global, now, cfg.GlobalWindow)}
	}

	st.normal = append(st.normal, now)
	l.global = append(l.global, now)
	st.last[kind] = now
	if kind == KindManual {
		st.consecutiveManual++
	}
	return Decision{Outcome: OutcomeAllowed}
}

// backoff returns the spacing required after n consecutive MANUAL attempts.
func (l *Limiter) backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := l.config.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= l.config.BackoffMax {
			return l.config.BackoffMax
		}
	}
	return d
}

func (l *Limiter) stateLocked(key string) *keyState {
	st, ok := l.keys[key]
	if !ok {
		st = &keyState{last: make(map[Kind]time.Time)}
		l.keys[key] = st
	}
	return st
}

// RecordSuccess resets MANUAL backoff for key after a successful resolution.
func (l *Limiter) RecordSuccess(key string) {
	l.ResetForKey(key)
}

// ResetForKey clears backoff for key; attempt counters are preserved.
func (l *Limiter) ResetForKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.keys[key]; ok {
		st.consecutiveManual = 0
	}
}

// Remaining returns how many attempts of kind key could still spend in the
// current window, ignoring interval and global limits.
func (l *Limiter) Remaining(key string, kind Kind) int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.keys[key]
	if !ok {
		if kind == KindAutoRecovery {
			return l.config.RecoveryPerKeyMax
		}
		return l.config.PerKeyMax
	}
	if kind == KindAutoRecovery {
		st.recovery = prune(st.recovery, now, l.config.PerKeyWindow)
		return l.config.RecoveryPerKeyMax - len(st.recovery)
	}
	st.normal = prune(st.normal, now, l.config.PerKeyWindow)
	return l.config.PerKeyMax - len(st.normal)
}

// Clear wipes all state.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = make(map[string]*keyState)
	l.global = nil
}

// Prune drops keys with no attempt inside any window or backoff horizon.
// It returns the number of keys removed.
func (l *Limiter) Prune() int {
	now := l.clock.Now()
	horizon := l.config.PerKeyWindow
	if l.config.BackoffMax > horizon {
		horizon = l.config.BackoffMax
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.global = prune(l.global, now, l.config.GlobalWindow)
	removed := 0
	for key, st := range l.keys {
		st.normal = prune(st.normal, now, l.config.PerKeyWindow)
		st.recovery = prune(st.recovery, now, l.config.PerKeyWindow)
		if len(st.normal) > 0 || len(st.recovery) > 0 {
			continue
		}
		idle := true
		for _, last := range st.last {
			if now.Sub(last) < horizon {
				idle = false
				break
			}
		}
		if idle {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// prune drops timestamps whose age reached window. Timestamps are ascending.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func untilRoll(ts []time.Time, now time.Time, window time.Duration) time.Duration {
	if len(ts) == 0 {
		return 0
	}
	d := ts[0].Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
