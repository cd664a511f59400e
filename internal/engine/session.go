// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/bufferhealth"
	"github.com/ManuGH/streamkeeper/internal/decision"
	"github.com/ManuGH/streamkeeper/internal/degradation"
	"github.com/ManuGH/streamkeeper/internal/failure"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/manifest"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/quality"
	"github.com/ManuGH/streamkeeper/internal/ratelimit"
	"github.com/ManuGH/streamkeeper/internal/recovery"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID         string             `json:"id"`
	VideoID    string             `json:"videoId"`
	Source     *Source            `json:"source,omitempty"`
	Prepared   decision.Prepared  `json:"prepared"`
	Recovery   recovery.Record    `json:"recovery"`
	Budget     degradation.Record `json:"budget"`
	Downshifts int                `json:"downshifts"`
}

// Session drives one playback of one video.
type Session struct {
	id       string
	videoID  string
	engine   *Engine
	player   Player
	listener Listener
	logger   zerolog.Logger

	machine *recovery.Machine
	monitor *bufferhealth.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serialises pipeline changes.
	opMu sync.Mutex

	mu               sync.Mutex
	closed           bool
	streams          *media.ResolvedStreams
	prepared         decision.Prepared
	source           *Source
	capHeight        int
	selected         *media.VideoTrack
	pinned           bool
	forceProgressive bool
	hlsFallback      bool
}

func newSession(e *Engine, id, videoID string, player Player, listener Listener) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		videoID:  videoID,
		engine:   e,
		player:   player,
		listener: listener,
		logger: e.logger.With().
			Str(xglog.FieldVideoID, videoID).
			Str("session_id", id).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.machine = recovery.New(e.cfg.Recovery, player, recoveryEvents{s},
		recovery.WithClock(e.clock), recovery.WithLogger(s.logger))
	s.monitor = bufferhealth.New(e.cfg.BufferHealth, player, s.downshift,
		bufferhealth.WithClock(e.clock), bufferhealth.WithLogger(s.logger))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// VideoID returns the video being played.
func (s *Session) VideoID() string { return s.videoID }

// Start resolves the video and prepares the player. Starting an already
// prepared session reuses the pipeline when the cache-hit rules allow it.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return ErrSessionClosed
	}

	streams, err := s.engine.Resolve(ctx, s.videoID, ratelimit.KindManual, false)
	if err != nil {
		return err
	}
	if src, rebuilt := s.loadLocked(streams, decision.OriginManual, 0, false); rebuilt {
		s.monitor.StartStream(src.Adaptive())
	}
	return nil
}

// SetQualityCap limits playback to tracks no taller than height (0 = none).
func (s *Session) SetQualityCap(height int) error {
	return s.reselect(func() {
		s.capHeight = max(height, 0)
		s.selected, s.pinned = nil, false
	})
}

// SelectTrack pins playback to track.
func (s *Session) SelectTrack(track media.VideoTrack) error {
	return s.reselect(func() {
		s.capHeight = 0
		s.selected, s.pinned = &track, true
	})
}

func (s *Session) reselect(update func()) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	streams := s.streams
	if streams == nil {
		s.mu.Unlock()
		return ErrNotPrepared
	}
	update()
	s.mu.Unlock()

	s.loadLocked(streams, decision.OriginManual, s.player.Position(), false)
	return nil
}

// OnPlayerStateChanged forwards player transitions.
func (s *Session) OnPlayerStateChanged(state recovery.PlayerState, playWhenReady bool) {
	s.machine.OnPlayerStateChanged(state, playWhenReady)
	switch state {
	case recovery.PlayerReady:
		s.engine.budget.OnPlaybackSuccess(s.videoID)
		s.engine.limiter.RecordSuccess(s.videoID)
	case recovery.PlayerEnded:
		s.monitor.Stop()
	}
}

// OnHTTPFailure classifies a failed media request and lets the recovery
// machine react to it.
func (s *Session) OnHTTPFailure(rep failure.Report) failure.Record {
	if rep.VideoID == "" {
		rep.VideoID = s.videoID
	}
	rec := s.engine.classifier.Record(rep)
	retryAfter, _ := failure.RetryAfter(rep.ResponseHeaders, s.engine.clock.Now())
	s.machine.OnPlaybackError(rec.Kind, retryAfter)
	return rec
}

// Retry restarts recovery from the first step.
func (s *Session) Retry() {
	s.machine.RequestManualRetry()
}

// ForceRefresh re-resolves the video and rebuilds the pipeline at the current position.
func (s *Session) ForceRefresh() error {
	return s.refresh(max(s.player.Position(), 0), ratelimit.KindManual)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:       s.id,
		VideoID:  s.videoID,
		Prepared: s.prepared,
	}
	if s.source != nil {
		src := *s.source
		info.Source = &src
	}
	s.mu.Unlock()

	info.Recovery = s.machine.Snapshot()
	info.Downshifts = s.monitor.Downshifts()
	if rec, ok := s.engine.budget.Snapshot(s.videoID); ok {
		info.Budget = rec
	} else {
		info.Budget = degradation.Record{VideoID: s.videoID, State: degradation.StateHealthy}
	}
	return info
}

// Close stops timers and detaches the session from the engine. Safe to call
// repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.machine.Release()
	s.monitor.Stop()
	s.engine.forget(s.id)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// refresh re-resolves with fresh URLs. Automatic refreshes spend degradation
// budget and apply the fallback the budget asks for.
func (s *Session) refresh(position time.Duration, kind ratelimit.Kind) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return ErrSessionClosed
	}

	streams, err := s.engine.Resolve(s.ctx, s.videoID, kind, true)

	// A refresh the limiter refused never reached the extractor.
	action := degradation.ActionNone
	var limited *LimitedError
	if kind == ratelimit.KindAutoRecovery && !errors.As(err, &limited) {
		action = s.engine.budget.ConsumeRefresh(s.videoID, "stream_refresh")
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "engine.refresh_failed").
			Str(xglog.FieldKind, string(kind)).
			Msg("stream refresh failed")
		return err
	}
	if action != degradation.ActionNone {
		s.applyLocked(streams, action)
	}

	src, _ := s.loadLocked(streams, originFor(kind), position, true)
	s.monitor.StartStream(src.Adaptive())
	return nil
}

func (s *Session) applyLocked(streams *media.ResolvedStreams, action degradation.Action) {
	switch action {
	case degradation.ActionQualityStepDown:
		if current, ok := s.currentTrack(); ok {
			if next, ok := quality.StepDown(current, streams.VideoTracks); ok {
				s.mu.Lock()
				s.selected, s.capHeight = &next, next.Height
				s.mu.Unlock()
			}
		}
	case degradation.ActionSwitchToMuxed:
		s.mu.Lock()
		s.forceProgressive = true
		s.mu.Unlock()
	case degradation.ActionForceHLSFallback:
		s.mu.Lock()
		s.hlsFallback = true
		s.mu.Unlock()
	}

	s.engine.budget.OnDegradationApplied(s.videoID, action)
	s.logger.Info().
		Str(xglog.FieldEvent, "engine.degradation_applied").
		Str(xglog.FieldAction, string(action)).
		Msg("applied degradation")
	s.listener.OnDegradationApplied(action)
}

// downshift is the buffer-health callback.
func (s *Session) downshift() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	streams, closed := s.streams, s.closed
	s.mu.Unlock()
	if closed || streams == nil {
		return false
	}

	current, ok := s.currentTrack()
	if !ok {
		return false
	}
	next, ok := quality.StepDown(current, streams.VideoTracks)
	if !ok {
		return false
	}

	s.mu.Lock()
	s.selected, s.capHeight = &next, next.Height
	s.mu.Unlock()
	if src, rebuilt := s.loadLocked(streams, decision.OriginAuto, s.player.Position(), false); rebuilt {
		s.monitor.StartStream(src.Adaptive())
	}

	s.engine.budget.OnDegradationApplied(s.videoID, degradation.ActionQualityStepDown)
	s.listener.OnDegradationApplied(degradation.ActionQualityStepDown)
	return true
}

func (s *Session) currentTrack() (media.VideoTrack, bool) {
	if t, ok := s.player.CurrentTrack(); ok {
		return t, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil {
		return *s.selected, true
	}
	return media.VideoTrack{}, false
}

// loadLocked plans a source for streams and either reuses the prepared
// pipeline or prepares a new one. It reports whether the player was rebuilt.
func (s *Session) loadLocked(streams *media.ResolvedStreams, origin decision.Origin, position time.Duration, rebuild bool) (Source, bool) {
	src, req := s.plan(streams, origin, position)

	s.mu.Lock()
	prepared := s.prepared
	s.mu.Unlock()

	if !rebuild {
		res := decision.EvaluateCacheHit(prepared, req)
		metrics.IncCacheHitDecision(string(req.AdaptiveKind), res.Hit)
		s.logger.Debug().
			Str(xglog.FieldEvent, "engine.cache_decision").
			Bool("hit", res.Hit).
			Str("reason", string(res.Reason)).
			Int(xglog.FieldQualityCap, res.QualityCapHeight).
			Msg("evaluated pipeline reuse")

		if res.Hit {
			src.QualityCapHeight = res.QualityCapHeight
			src.ManifestURL = prepared.ManifestURL
			s.mu.Lock()
			s.streams = streams
			s.prepared.QualityCapHeight = res.QualityCapHeight
			s.prepared.SelectedVideoTrack = src.Video
			s.source = &src
			s.mu.Unlock()
			if src.Video != nil && !sameTrack(prepared.SelectedVideoTrack, src.Video) {
				s.player.SwitchTrack(*src.Video)
			}
			return src, false
		}
	}

	s.player.Prepare(src)

	s.mu.Lock()
	s.streams = streams
	s.prepared = decision.Prepared{
		Key:                req.Key,
		AdaptiveKind:       src.Kind,
		QualityCapHeight:   src.QualityCapHeight,
		SelectedVideoTrack: src.Video,
		ManifestURL:        src.ManifestURL,
	}
	s.source = &src
	s.mu.Unlock()

	s.machine.SetAdaptive(src.Adaptive())
	return src, true
}

// plan picks tracks and the adaptive kind for streams under the current
// selection state.
func (s *Session) plan(streams *media.ResolvedStreams, origin decision.Origin, position time.Duration) (Source, decision.Requested) {
	s.mu.Lock()
	capHeight, selected, pinned := s.capHeight, s.selected, s.pinned
	forceProgressive, hlsFallback := s.forceProgressive, s.hlsFallback
	s.mu.Unlock()

	key := decision.StreamKey{StreamID: streams.StreamID}
	if key.StreamID == "" {
		key.StreamID = s.videoID
	}
	src := Source{
		StreamID:         key.StreamID,
		Kind:             decision.KindNone,
		QualityCapHeight: capHeight,
		HLSFallback:      hlsFallback,
		StartPosition:    position,
	}

	video, hasVideo := pickVideo(streams.VideoTracks, capHeight, selected, forceProgressive)
	if hasVideo {
		src.Video = &video
		src.ManifestURL = video.URL
	}
	if audio, ok := pickAudio(streams.AudioTracks); ok {
		src.Audio = &audio
		if !hasVideo {
			src.ManifestURL = audio.URL
			key.AudioOnly = true
		}
	}

	if hasVideo && video.VideoOnly && !forceProgressive && !hlsFallback {
		if pinned {
			if res, err := manifest.GenerateForTrack(streams, video); err == nil {
				src.Kind = decision.KindSyntheticSingleRep
				src.ManifestXML = res.ManifestXML
				src.ManifestURL = manifest.ManifestURL(s.videoID, manifest.Fingerprint(res.ManifestXML))
				src.QualityCapHeight = 0
			}
		} else {
			entry, err := s.engine.manifests.GetOrGenerate(s.videoID, func() (manifest.Result, error) {
				return manifest.Generate(streams, 0)
			})
			if err == nil {
				src.Kind = decision.KindSyntheticMultiRep
				src.ManifestXML = entry.ManifestXML
				src.ManifestURL = entry.URL()
			}
		}
	}

	return src, decision.Requested{
		Key:                key,
		AdaptiveKind:       src.Kind,
		QualityCapHeight:   src.QualityCapHeight,
		SelectedVideoTrack: src.Video,
		Origin:             origin,
		WouldUseAdaptive:   src.Adaptive(),
	}
}

func originFor(kind ratelimit.Kind) decision.Origin {
	switch kind {
	case ratelimit.KindManual:
		return decision.OriginManual
	case ratelimit.KindAutoRecovery:
		return decision.OriginAutoRecovery
	default:
		return decision.OriginAuto
	}
}

// recoveryEvents adapts the recovery listener onto a session.
type recoveryEvents struct{ s *Session }

func (r recoveryEvents) OnRecoveryStarted(step recovery.Step, attempt int) {
	r.s.listener.OnRecoveryStarted(step, attempt)
}

func (r recoveryEvents) OnRecoverySucceeded() {
	r.s.listener.OnRecoverySucceeded()
}

func (r recoveryEvents) OnRecoveryExhausted() {
	r.s.monitor.Stop()
	r.s.listener.OnStreamUnavailable()
}

// OnRequestStreamRefresh reports refused refreshes back to the machine so
// recovery either retries after the limiter's delay or gives up.
func (r recoveryEvents) OnRequestStreamRefresh(position time.Duration) {
	err := r.s.refresh(position, ratelimit.KindAutoRecovery)
	if err == nil || errors.Is(err, ErrSessionClosed) {
		return
	}
	var limited *LimitedError
	if errors.As(err, &limited) {
		r.s.machine.OnRefreshFailed(limited.Decision.Delay, limited.Decision.Outcome == ratelimit.OutcomeBlocked)
		return
	}
	r.s.machine.OnRefreshFailed(0, false)
}
