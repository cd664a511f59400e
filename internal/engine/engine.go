// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine composes the resilience components around playback
// sessions: resolution, classification, rate limiting, recovery, degradation,
// buffer health and synthetic manifests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/bufferhealth"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/degradation"
	"github.com/ManuGH/streamkeeper/internal/failure"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/manifest"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/ratelimit"
	"github.com/ManuGH/streamkeeper/internal/recovery"
	"github.com/ManuGH/streamkeeper/internal/resolver"
)

var (
	// ErrRateLimited is wrapped by *LimitedError.
	ErrRateLimited = errors.New("engine: rate limited")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("engine: session closed")
	// ErrNotPrepared is returned when no stream has been loaded yet.
	ErrNotPrepared = errors.New("engine: session not prepared")
)

// LimitedError carries the limiter verdict that refused a resolution.
type LimitedError struct {
	VideoID  string
	Decision ratelimit.Decision
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("engine: resolution of %s %s, retry in %s", e.VideoID, e.Decision.Outcome, e.Decision.Delay)
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// Config aggregates the component configurations.
type Config struct {
	Classifier     failure.Config
	RateLimit      ratelimit.Config
	Recovery       recovery.Config
	Degradation    degradation.Config
	BufferHealth   bufferhealth.Config
	Manifest       manifest.RegistryConfig
	ResolveTimeout time.Duration
}

// DefaultConfig returns the production defaults of every component.
func DefaultConfig() Config {
	return Config{
		Classifier:     failure.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Recovery:       recovery.DefaultConfig(),
		Degradation:    degradation.DefaultConfig(),
		BufferHealth:   bufferhealth.DefaultConfig(),
		Manifest:       manifest.RegistryConfig{Capacity: manifest.DefaultCapacity, TTL: manifest.DefaultTTL},
		ResolveTimeout: 30 * time.Second,
	}
}

// Engine owns the shared components and the open sessions.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	sink   failure.Sink

	resolver   *resolver.Resolver
	classifier *failure.Classifier
	limiter    *ratelimit.Limiter
	budget     *degradation.Manager
	manifests  *manifest.Registry

	sessions *xsync.Map[string, *Session]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source into every component.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = clock.OrReal(c) }
}

// WithLogger overrides the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFailureSink forwards every classified failure to s.
func WithFailureSink(s failure.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// New wires the components around extractor.
func New(cfg Config, extractor resolver.Extractor, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    clock.Real(),
		logger:   xglog.WithComponent("engine"),
		sessions: xsync.NewMap[string, *Session](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.ResolveTimeout <= 0 {
		e.cfg.ResolveTimeout = DefaultConfig().ResolveTimeout
	}

	classifierOpts := []failure.Option{failure.WithClock(e.clock)}
	if e.sink != nil {
		classifierOpts = append(classifierOpts, failure.WithSink(e.sink))
	}

	e.resolver = resolver.New(extractor, resolver.WithClock(e.clock))
	e.classifier = failure.New(cfg.Classifier, classifierOpts...)
	e.limiter = ratelimit.New(cfg.RateLimit, ratelimit.WithClock(e.clock))
	e.budget = degradation.New(cfg.Degradation, degradation.WithClock(e.clock), degradation.WithListener(budgetEvents{e}))
	e.manifests = manifest.NewRegistry(cfg.Manifest, manifest.WithClock(e.clock))
	return e
}

// Resolver returns the shared stream resolver.
func (e *Engine) Resolver() *resolver.Resolver { return e.resolver }

// Classifier returns the shared failure classifier.
func (e *Engine) Classifier() *failure.Classifier { return e.classifier }

// Limiter returns the shared rate limiter.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Budget returns the degradation budget manager.
func (e *Engine) Budget() *degradation.Manager { return e.budget }

// Manifests returns the synthetic manifest registry.
func (e *Engine) Manifests() *manifest.Registry { return e.manifests }

// Resolve asks the limiter for permission and resolves videoID. A refused
// attempt returns a *LimitedError.
func (e *Engine) Resolve(ctx context.Context, videoID string, kind ratelimit.Kind, force bool) (*media.ResolvedStreams, error) {
	if d := e.limiter.Acquire(videoID, kind); !d.Allowed() {
		return nil, &LimitedError{VideoID: videoID, Decision: d}
	}

	opts := []resolver.ResolveOption{resolver.WithTimeout(e.cfg.ResolveTimeout)}
	if force {
		opts = append(opts, resolver.WithForceRefresh())
		e.manifests.Unregister(videoID)
	}
	streams, err := e.resolver.Resolve(ctx, videoID, opts...)
	if err != nil {
		return nil, err
	}
	e.classifier.OnResolvedAt(videoID, streams.ResolvedAt)
	return streams, nil
}

// Open creates a session for videoID driving player. Call Start to load it.
func (e *Engine) Open(videoID string, player Player, listener Listener) *Session {
	if listener == nil {
		listener = NopListener{}
	}
	s := newSession(e, uuid.NewString(), videoID, player, listener)
	e.sessions.Store(s.id, s)
	e.logger.Debug().
		Str(xglog.FieldEvent, "engine.session_opened").
		Str(xglog.FieldVideoID, videoID).
		Str("session_id", s.id).
		Msg("session opened")
	return s
}

// Session returns an open session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	return e.sessions.Load(id)
}

// Sessions returns a snapshot of every open session.
func (e *Engine) Sessions() []Info {
	out := make([]Info, 0, e.sessions.Size())
	e.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s.Info())
		return true
	})
	return out
}

// RefreshExpiring re-resolves sessions whose URLs are close to expiry. It
// returns how many sessions were refreshed.
func (e *Engine) RefreshExpiring(ctx context.Context) int {
	var due []*Session
	e.sessions.Range(func(_ string, s *Session) bool {
		if e.classifier.ShouldRefreshPreemptively(s.videoID) {
			due = append(due, s)
		}
		return true
	})

	refreshed := 0
	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.refresh(s.player.Position(), ratelimit.KindPrefetch); err != nil {
			e.logger.Debug().Err(err).
				Str(xglog.FieldEvent, "engine.preemptive_refresh_skipped").
				Str(xglog.FieldVideoID, s.videoID).
				Msg("preemptive refresh not performed")
			continue
		}
		refreshed++
	}
	return refreshed
}

// Prune drops stale limiter keys and manifests. It is meant for a periodic janitor.
func (e *Engine) Prune(manifestMaxAge time.Duration) (keys, manifests int) {
	return e.limiter.Prune(), e.manifests.Prune(manifestMaxAge)
}

// Close releases every session and cancels in-flight resolutions.
func (e *Engine) Close() {
	e.sessions.Range(func(_ string, s *Session) bool {
		s.Close()
		return true
	})
	e.resolver.Close()
	e.classifier.Close()
}

func (e *Engine) forget(id string) {
	e.sessions.Delete(id)
}

func (e *Engine) eachSession(videoID string, fn func(*Session)) {
	e.sessions.Range(func(_ string, s *Session) bool {
		if s.videoID == videoID {
			fn(s)
		}
		return true
	})
}

// budgetEvents routes degradation events to the sessions playing the video.
type budgetEvents struct{ e *Engine }

func (b budgetEvents) OnStateChanged(videoID string, from, to degradation.State) {
	b.e.eachSession(videoID, func(s *Session) { s.listener.OnBudgetStateChanged(from, to) })
}

func (b budgetEvents) OnDegradationRequired(videoID string, action degradation.Action) {
	b.e.logger.Info().
		Str(xglog.FieldEvent, "engine.degradation_required").
		Str(xglog.FieldVideoID, videoID).
		Str(xglog.FieldAction, string(action)).
		Msg("refresh budget exhausted")
}

func (b budgetEvents) OnBudgetLow(videoID string, remaining int) {
	b.e.logger.Debug().
		Str(xglog.FieldEvent, "engine.budget_low").
		Str(xglog.FieldVideoID, videoID).
		Int(xglog.FieldRemaining, remaining).
		Msg("refresh budget running low")
}
