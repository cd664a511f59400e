// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the engine, its collaborators and the control
// API into one process and runs them until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/api"
	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/diagnostics"
	"github.com/ManuGH/streamkeeper/internal/engine"
	"github.com/ManuGH/streamkeeper/internal/extract"
	"github.com/ManuGH/streamkeeper/internal/health"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/resilience"
	"github.com/ManuGH/streamkeeper/internal/resolver"
)

// ExtractorBreaker is the breaker name guarding the extraction sidecar.
const ExtractorBreaker = "extractor"

// ShutdownHook performs cleanup during graceful shutdown.
// Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Runtime is the fully wired process.
type Runtime struct {
	Config   config.AppConfig
	Engine   *engine.Engine
	Health   *health.Manager
	Breakers *resilience.Registry
	API      *api.Server
	Janitor  *Janitor

	cache  cache.Cache
	memory *cache.MemoryCache
	logger zerolog.Logger
	clock  clock.Clock
	hooks  []namedHook
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock     clock.Clock
	extractor resolver.Extractor
	logger    zerolog.Logger
	hasLogger bool
}

// WithClock injects the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithExtractor replaces the sidecar client. The cache and breaker still
// wrap it.
func WithExtractor(e resolver.Extractor) Option {
	return func(o *buildOptions) { o.extractor = e }
}

// WithLogger sets the daemon logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *buildOptions) { o.logger, o.hasLogger = logger, true }
}

// Build wires every component from cfg. On error everything built so far
// is released.
func Build(ctx context.Context, cfg config.AppConfig, opts ...Option) (rt *Runtime, err error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasLogger {
		o.logger = xglog.WithComponent("daemon")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	rt = &Runtime{
		Config: cfg,
		logger: o.logger,
		clock:  clock.OrReal(o.clock),
	}
	defer func() {
		if err != nil {
			_ = rt.Shutdown(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	rt.Health = health.NewManager(cfg.Version, health.WithClock(rt.clock))

	if err := rt.buildCache(ctx); err != nil {
		return rt, err
	}

	rt.Breakers = resilience.NewRegistry(
		cfg.Extractor.BreakerThreshold,
		cfg.Extractor.BreakerReset,
		resilience.WithClock(rt.clock),
		resilience.WithFailurePredicate(extract.Countable),
	)
	breaker := rt.Breakers.Get(ExtractorBreaker)
	rt.Health.RegisterChecker(health.NewFuncChecker("extractor_breaker", health.StatusDegraded, func(context.Context) error {
		if s := breaker.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}))

	var next resolver.Extractor
	if o.extractor != nil {
		next = o.extractor
	} else {
		next = extract.NewClient(cfg.Extractor.BaseURL, extract.ClientOptions{
			Timeout:   cfg.Extractor.Timeout,
			UserAgent: "streamkeeper/" + cfg.Version,
			Clock:     rt.clock,
		})
	}
	var chain resolver.Extractor = extract.NewGuarded(next, breaker)
	if rt.cache != nil {
		chain = extract.NewCachingExtractor(chain, rt.cache, cfg.Cache.TTL,
			extract.WithCacheClock(rt.clock),
			extract.WithURLTTL(cfg.Classifier.URLTTL),
		)
	}

	engineOpts := []engine.Option{engine.WithClock(rt.clock)}
	if len(cfg.Diagnostics.KafkaBrokers) > 0 {
		sink, err := diagnostics.NewKafkaSink(diagnostics.KafkaConfig{
			Brokers:   cfg.Diagnostics.KafkaBrokers,
			Topic:     cfg.Diagnostics.KafkaTopic,
			QueueSize: cfg.Diagnostics.QueueSize,
		}, xglog.WithComponent("diagnostics"))
		if err != nil {
			return rt, fmt.Errorf("diagnostics sink: %w", err)
		}
		rt.OnShutdown("diagnostics_sink", func(context.Context) error { return sink.Close() })
		engineOpts = append(engineOpts, engine.WithFailureSink(sink))
	}

	rt.Engine = engine.New(EngineConfig(cfg), chain, engineOpts...)
	rt.OnShutdown("engine", func(context.Context) error {
		rt.Engine.Close()
		return nil
	})
	if path := cfg.Diagnostics.DumpPath; path != "" {
		// Registered after the engine hook so the dump runs first.
		rt.OnShutdown("diagnostics_dump", func(context.Context) error {
			return diagnostics.WriteDump(path, diagnostics.Dump{
				Version:     cfg.Version,
				GeneratedAt: rt.clock.Now(),
				Records:     rt.Engine.Classifier().Records(),
			})
		})
	}

	rt.Janitor, err = NewJanitor(cfg.Janitor.Schedule, rt.Engine, rt.memory, cfg.Janitor.ManifestMaxAge, rt.clock)
	if err != nil {
		return rt, err
	}
	maxAge := 2 * rt.Janitor.Interval()
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	rt.Health.RegisterChecker(health.NewLastRunChecker("janitor", maxAge, rt.clock, rt.Janitor.LastRun))

	serviceName := ""
	if cfg.Telemetry.Enabled {
		serviceName = cfg.Telemetry.ServiceName
	}
	rt.API = api.New(api.Config{
		APIToken:          cfg.Server.APIToken,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		TracingService:    serviceName,
	}, rt.Engine, rt.Health, api.WithBreakers(rt.Breakers))

	return rt, nil
}

func (rt *Runtime) buildCache(ctx context.Context) error {
	switch backend := strings.ToLower(strings.TrimSpace(rt.Config.Cache.Backend)); backend {
	case "", "memory":
		rt.memory = cache.NewMemoryCache(rt.clock)
		rt.cache = rt.memory
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      rt.Config.Cache.RedisAddr,
			Password:  rt.Config.Cache.RedisPassword,
			DB:        rt.Config.Cache.RedisDB,
			KeyPrefix: rt.Config.Cache.KeyPrefix,
		}, xglog.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		rt.cache = rc
		rt.OnShutdown("redis", func(context.Context) error { return rc.Close() })
		rt.Health.RegisterChecker(health.NewFuncChecker("redis", health.StatusUnhealthy, rc.HealthCheck))
	case "none":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCacheBackend, backend)
	}
	return nil
}

// Handler is the HTTP handler of the control surface.
func (rt *Runtime) Handler() http.Handler {
	return rt.API.Handler()
}

// OnShutdown registers a cleanup hook.
func (rt *Runtime) OnShutdown(name string, hook ShutdownHook) {
	rt.hooks = append(rt.hooks, namedHook{name: name, hook: hook})
}

// Shutdown runs every hook in reverse registration order and joins their
// errors. It is safe to call more than once; hooks run only the first time.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	hooks := rt.hooks
	rt.hooks = nil

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			rt.logger.Error().Err(err).
				Str(xglog.FieldEvent, "shutdown.hook_failed").
				Str("hook", h.name).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		rt.logger.Debug().
			Str(xglog.FieldEvent, "shutdown.hook_done").
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}
	return errors.Join(errs...)
}
