// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/engine"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
)

// JanitorResult summarises one janitor pass.
type JanitorResult struct {
	LimiterKeys     int
	Manifests       int
	CacheEntries    int
	PrefetchRefresh int
	Duration        time.Duration
}

// Janitor prunes idle engine state on a cron schedule and starts
// background refreshes for streams whose URLs are about to expire.
type Janitor struct {
	engine  *engine.Engine
	memory  *cache.MemoryCache
	maxAge  time.Duration
	clock   clock.Clock
	logger  zerolog.Logger
	cron    *cron.Cron
	entryID cron.EntryID

	runMu   sync.Mutex // serialises passes
	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// NewJanitor schedules passes according to spec ("@every 1m" or a standard
// five-field cron expression). memory may be nil.
func NewJanitor(spec string, eng *engine.Engine, memory *cache.MemoryCache, manifestMaxAge time.Duration, c clock.Clock) (*Janitor, error) {
	j := &Janitor{
		engine: eng,
		memory: memory,
		maxAge: manifestMaxAge,
		clock:  clock.OrReal(c),
		logger: xglog.WithComponent("janitor"),
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
	}
	id, err := j.cron.AddFunc(spec, func() { j.RunOnce(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", spec, err)
	}
	j.entryID = id
	return j, nil
}

// Start begins scheduled passes.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running pass until ctx ends.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval is the gap between two consecutive scheduled passes.
func (j *Janitor) Interval() time.Duration {
	entry := j.cron.Entry(j.entryID)
	if entry.Schedule == nil {
		return 0
	}
	next := entry.Schedule.Next(j.clock.Now())
	return entry.Schedule.Next(next).Sub(next)
}

// RunOnce performs one pass immediately.
func (j *Janitor) RunOnce(ctx context.Context) (res JanitorResult) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	start := j.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			j.finish(start, fmt.Sprintf("janitor panic: %v", r))
			return
		}
		j.finish(start, "")
	}()

	res.LimiterKeys, res.Manifests = j.engine.Prune(j.maxAge)
	if j.memory != nil {
		res.CacheEntries = j.memory.DeleteExpired()
	}
	res.PrefetchRefresh = j.engine.RefreshExpiring(ctx)
	res.Duration = j.clock.Now().Sub(start)

	j.logger.Debug().
		Str(xglog.FieldEvent, "janitor.pass").
		Int("limiter_keys", res.LimiterKeys).
		Int("manifests", res.Manifests).
		Int("cache_entries", res.CacheEntries).
		Int("prefetch_refresh", res.PrefetchRefresh).
		Dur("duration", res.Duration).
		Msg("janitor pass complete")
	return res
}

func (j *Janitor) finish(start time.Time, errMsg string) {
	if errMsg != "" {
		j.logger.Error().Str(xglog.FieldEvent, "janitor.failed").Msg(errMsg)
	}
	j.mu.Lock()
	j.lastRun = start
	j.lastErr = errMsg
	j.mu.Unlock()
}

// LastRun reports the start of the last pass and its error, if any. It is
// the input of the janitor health check.
func (j *Janitor) LastRun() (time.Time, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.lastErr
}
