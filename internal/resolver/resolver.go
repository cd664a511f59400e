// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver runs at most one stream extraction per video at a time and
// lets concurrent callers share its result.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

var (
	// ErrWaitTimeout is returned to a caller whose own timeout elapsed. The
	// shared job keeps running.
	ErrWaitTimeout = errors.New("resolver: wait timed out")
	// ErrJobCancelled is returned to every waiter of a job that was cancelled
	// or superseded by a forced refresh.
	ErrJobCancelled = errors.New("resolver: resolution job cancelled")
	// ErrEmptyResult is returned when the extractor reports neither streams nor an error.
	ErrEmptyResult = errors.New("resolver: extractor returned no streams")
)

// Extractor performs one underlying stream extraction.
type Extractor interface {
	Resolve(ctx context.Context, videoID string) (*media.ResolvedStreams, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, videoID string) (*media.ResolvedStreams, error)

// Resolve implements Extractor.
func (f ExtractorFunc) Resolve(ctx context.Context, videoID string) (*media.ResolvedStreams, error) {
	return f(ctx, videoID)
}

type forceKey struct{}

// ForceRefreshFromContext reports whether the extraction running under ctx
// was started by a forced refresh. Caching extractors use it to skip their
// cache.
func ForceRefreshFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(forceKey{}).(bool)
	return v
}

type job struct {
	id      string
	videoID string
	force   bool

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	done   chan struct{}
	result *media.ResolvedStreams
	err    error
}

func (j *job) abort() {
	j.cancelled.Store(true)
	j.cancel()
}

// Stats counts job lifecycle events since construction.
type Stats struct {
	Started   uint64 `json:"started"`
	Joined    uint64 `json:"joined"`
	Forced    uint64 `json:"forced"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	InFlight  int    `json:"inFlight"`
}

type counters struct {
	started, joined, forced, succeeded, failed, cancelled atomic.Uint64
}

// Resolver deduplicates extractions per video id.
type Resolver struct {
	extractor Extractor
	clock     clock.Clock
	logger    zerolog.Logger
	tracer    trace.Tracer

	jobs *xsync.Map[string, *job]

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	stats counters
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock injects the time source used for caller timeouts.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a resolver backed by extractor.
func New(extractor Extractor, opts ...Option) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		extractor:  extractor,
		clock:      clock.Real(),
		logger:     xglog.WithComponent("resolver"),
		tracer:     telemetry.Tracer("streamkeeper.resolver"),
		jobs:       xsync.NewMap[string, *job](),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type resolveOptions struct {
	force   bool
	timeout time.Duration
}

// ResolveOption tunes a single Resolve call.
type ResolveOption func(*resolveOptions)

// WithForceRefresh replaces any in-flight job with a new extraction.
func WithForceRefresh() ResolveOption {
	return func(o *resolveOptions) { o.force = true }
}

// WithTimeout bounds how long this caller waits. Zero means no bound.
func WithTimeout(d time.Duration) ResolveOption {
	return func(o *resolveOptions) { o.timeout = d }
}

// Resolve returns the streams for videoID, joining an in-flight extraction
// when one exists.
//
// A caller whose ctx ends gets ctx.Err(); one whose timeout elapses gets
// ErrWaitTimeout. Neither cancels the shared job. Waiters of a job that is
// cancelled or superseded get ErrJobCancelled.
func (r *Resolver) Resolve(ctx context.Context, videoID string, opts ...ResolveOption) (*media.ResolvedStreams, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	j := r.startOrJoin(ctx, videoID, o.force)
	return r.await(ctx, j, o.timeout)
}

func (r *Resolver) startOrJoin(ctx context.Context, videoID string, force bool) *job {
	var (
		target     *job
		superseded *job
		created    bool
	)
	r.jobs.Compute(videoID, func(old *job, loaded bool) (*job, xsync.ComputeOp) {
		if loaded && !force {
			target = old
			return old, xsync.CancelOp
		}
		superseded = nil
		if loaded {
			superseded = old
		}
		target = r.newJob(videoID, force)
		created = true
		return target, xsync.UpdateOp
	})

	logger := r.logger.With().Str(xglog.FieldVideoID, videoID).Str(xglog.FieldJobID, target.id).Logger()

	if superseded != nil {
		superseded.abort()
		r.stats.forced.Add(1)
		metrics.IncResolverJob("forced")
		logger.Debug().
			Str(xglog.FieldEvent, "resolver.superseded").
			Str("previous_job_id", superseded.id).
			Msg("forced refresh replaced in-flight job")
	}

	if !created {
		r.stats.joined.Add(1)
		metrics.IncResolverJob("joined")
		logger.Debug().Str(xglog.FieldEvent, "resolver.joined").Msg("joined in-flight resolution")
		return target
	}

	r.stats.started.Add(1)
	metrics.IncResolverJob("started")
	metrics.SetResolverInflight(r.jobs.Size())
	logger.Debug().Str(xglog.FieldEvent, "resolver.started").Bool("force", force).Msg("resolution started")

	r.wg.Add(1)
	go r.run(target, trace.LinkFromContext(ctx))
	return target
}

func (r *Resolver) newJob(videoID string, force bool) *job {
	ctx, cancel := context.WithCancel(r.baseCtx)
	return &job{
		id:      uuid.NewString(),
		videoID: videoID,
		force:   force,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (r *Resolver) run(j *job, caller trace.Link) {
	defer r.wg.Done()
	defer j.cancel()

	ctx, span := r.tracer.Start(j.ctx, "streamkeeper.resolve",
		trace.WithAttributes(telemetry.ResolveAttributes(j.videoID, j.id, j.force)...),
		trace.WithLinks(caller),
	)
	ctx = xglog.ContextWithJobID(xglog.ContextWithVideoID(ctx, j.videoID), j.id)
	if j.force {
		ctx = context.WithValue(ctx, forceKey{}, true)
	}

	start := r.clock.Now()
	res, err := r.extractor.Resolve(ctx, j.videoID)
	if err == nil && res == nil {
		err = ErrEmptyResult
	}

	outcome := "succeeded"
	switch {
	case j.cancelled.Load():
		res, err = nil, ErrJobCancelled
		outcome = "cancelled"
		r.stats.cancelled.Add(1)
	case err != nil:
		res, err = nil, fmt.Errorf("resolve %s: %w", j.videoID, err)
		outcome = "failed"
		r.stats.failed.Add(1)
		r.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "resolver.failed").
			Str(xglog.FieldVideoID, j.videoID).
			Str(xglog.FieldJobID, j.id).
			Msg("stream extraction failed")
	default:
		r.stats.succeeded.Add(1)
		span.SetAttributes(telemetry.TrackAttributes(len(res.VideoTracks), len(res.AudioTracks))...)
	}
	metrics.IncResolverJob(outcome)
	metrics.ObserveResolverDuration(outcome, r.clock.Now().Sub(start).Seconds())

	j.result, j.err = res, err

	// Only the job currently registered may remove itself.
	r.jobs.Compute(j.videoID, func(cur *job, loaded bool) (*job, xsync.ComputeOp) {
		if loaded && cur == j {
			return nil, xsync.DeleteOp
		}
		return cur, xsync.CancelOp
	})
	metrics.SetResolverInflight(r.jobs.Size())

	close(j.done)
	if errors.Is(err, ErrJobCancelled) {
		err = nil
	}
	telemetry.EndSpan(span, err)
}

func (r *Resolver) await(ctx context.Context, j *job, timeout time.Duration) (*media.ResolvedStreams, error) {
	var expired <-chan struct{}
	if timeout > 0 {
		ch := make(chan struct{})
		t := r.clock.AfterFunc(timeout, func() { close(ch) })
		defer t.Stop()
		expired = ch
	}

	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		metrics.IncResolverWaitTimeout()
		r.logger.Debug().
			Str(xglog.FieldEvent, "resolver.wait_timeout").
			Str(xglog.FieldVideoID, j.videoID).
			Str(xglog.FieldJobID, j.id).
			Dur("timeout", timeout).
			Msg("caller stopped waiting, job continues")
		return nil, ErrWaitTimeout
	}
}

// Cancel cancels the in-flight job for videoID. Its waiters get ErrJobCancelled.
func (r *Resolver) Cancel(videoID string) bool {
	var victim *job
	r.jobs.Compute(videoID, func(cur *job, loaded bool) (*job, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		victim = cur
		return nil, xsync.DeleteOp
	})
	if victim == nil {
		return false
	}
	victim.abort()
	metrics.SetResolverInflight(r.jobs.Size())
	r.logger.Debug().
		Str(xglog.FieldEvent, "resolver.cancelled").
		Str(xglog.FieldVideoID, videoID).
		Str(xglog.FieldJobID, victim.id).
		Msg("resolution cancelled")
	return true
}

// CancelAll cancels every in-flight job and returns how many were cancelled.
func (r *Resolver) CancelAll() int {
	var ids []string
	r.jobs.Range(func(videoID string, _ *job) bool {
		ids = append(ids, videoID)
		return true
	})
	n := 0
	for _, id := range ids {
		if r.Cancel(id) {
			n++
		}
	}
	return n
}

// Close cancels all jobs and waits for their goroutines to exit.
func (r *Resolver) Close() {
	r.CancelAll()
	r.baseCancel()
	r.wg.Wait()
}

// InFlight reports whether a job for videoID is running.
func (r *Resolver) InFlight(videoID string) bool {
	_, ok := r.jobs.Load(videoID)
	return ok
}

// Len returns the number of in-flight jobs.
func (r *Resolver) Len() int {
	return r.jobs.Size()
}

// Stats returns lifecycle counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Started:   r.stats.started.Load(),
		Joined:    r.stats.joined.Load(),
		Forced:    r.stats.forced.Load(),
		Succeeded: r.stats.succeeded.Load(),
		Failed:    r.stats.failed.Load(),
		Cancelled: r.stats.cancelled.Load(),
		InFlight:  r.jobs.Size(),
	}
}
