// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamkeeper/internal/config"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

// App owns the long-lived process lifecycle: the HTTP server, the janitor,
// the config watcher and tracing. Components are owned by the Runtime.
type App struct {
	rt           *Runtime
	holder       *config.Holder
	listener     net.Listener
	reloadSignal os.Signal
	running      atomic.Bool
}

// AppOption configures an App.
type AppOption func(*App)

// WithListener serves on ln instead of binding server.listenAddr.
func WithListener(ln net.Listener) AppOption {
	return func(a *App) { a.listener = ln }
}

// WithReloadSignal overrides SIGHUP as the manual reload trigger. nil
// disables it.
func WithReloadSignal(sig os.Signal) AppOption {
	return func(a *App) { a.reloadSignal = sig }
}

// NewApp creates an App. holder may be nil when hot reload is not wanted.
func NewApp(rt *Runtime, holder *config.Holder, opts ...AppOption) *App {
	a := &App{
		rt:           rt,
		holder:       holder,
		reloadSignal: syscall.SIGHUP,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every subsystem and blocks until ctx is cancelled or a
// subsystem fails. The runtime is shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.rt == nil {
		return ErrMissingRuntime
	}
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	cfg := a.rt.Config
	logger := a.rt.logger

	tp, err := telemetry.NewProvider(ctx, TelemetryConfig(cfg))
	if err != nil {
		// Tracing is best effort.
		logger.Warn().Err(err).Str(xglog.FieldEvent, "telemetry.init_failed").Msg("tracing disabled")
	} else {
		a.rt.OnShutdown("telemetry", tp.Shutdown)
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.rt.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout / 2,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	g.Go(func() error {
		var err error
		if a.listener != nil {
			logger.Info().Str(xglog.FieldEvent, "api.listening").Str("addr", a.listener.Addr().String()).Msg("API server listening")
			err = srv.Serve(a.listener)
		} else {
			logger.Info().Str(xglog.FieldEvent, "api.listening").Str("addr", srv.Addr).Msg("API server listening")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str(xglog.FieldEvent, "api.server.failed").Msg("API server failed")
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})

	a.rt.Janitor.Start()
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.rt.Janitor.Stop(stopCtx)
	})

	if a.holder != nil {
		a.watchConfig(gctx, g)
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.started").
		Str("version", cfg.Version).
		Msg("streamkeeper started")

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := a.rt.Shutdown(shutdownCtx)

	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("streamkeeper stopped")
	return errors.Join(runErr, shutdownErr)
}

// watchConfig applies hot-reloadable settings. Only the log level changes at
// runtime; every other change is logged as requiring a restart.
func (a *App) watchConfig(ctx context.Context, g *errgroup.Group) {
	logger := a.rt.logger

	// The watcher is best effort: startup must not fail because of it.
	if err := a.holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	applyCh := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(applyCh)
	current := a.rt.Config
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-applyCh:
				if next.LogLevel != current.LogLevel {
					xglog.SetLevel(next.LogLevel)
					logger.Info().
						Str(xglog.FieldEvent, "config.log_level_applied").
						Str("level", next.LogLevel).
						Msg("log level changed")
				}
				restart := 0
				for _, c := range config.Diff(current, next) {
					if c.Field != "LogLevel" {
						restart++
					}
				}
				if restart > 0 {
					logger.Warn().
						Str(xglog.FieldEvent, "config.restart_required").
						Int("changes", restart).
						Msg("configuration changes take effect after restart")
				}
				current = next
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				logger.Info().
					Str(xglog.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")
				if err := a.holder.Reload(ctx); err != nil {
					logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
				}
			}
		}
	})
}
