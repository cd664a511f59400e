// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/ratelimit"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.health.ServeHealth(w, r)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	s.health.ServeReady(w, r)
}

// handleResolve resolves a video. Query: kind=manual|prefetch (default
// manual), force=true to bypass the in-flight job and caches.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	q := r.URL.Query()

	kind := ratelimit.KindManual
	switch q.Get("kind") {
	case "", string(ratelimit.KindManual):
	case string(ratelimit.KindPrefetch):
		kind = ratelimit.KindPrefetch
	default:
		writeBadRequest(w, "kind must be manual or prefetch")
		return
	}
	force := false
	if v := q.Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "force must be a boolean")
			return
		}
		force = b
	}

	ctx := log.ContextWithVideoID(r.Context(), videoID)
	streams, err := s.engine.Resolve(ctx, videoID, kind, force)
	if err != nil {
		logger := log.WithContext(ctx, s.logger)
		logger.Warn().Err(err).
			Str(log.FieldEvent, "api.resolve_failed").
			Str(log.FieldKind, string(kind)).
			Bool("force", force).
			Msg("resolve failed")
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Resolver().Cancel(chi.URLParam(r, "videoID")) {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": s.engine.Resolver().CancelAll()})
}

func (s *Server) handleResolverStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Resolver().Stats())
}

type rateLimitStatus struct {
	VideoID   string         `json:"videoId"`
	Remaining map[string]int `json:"remaining"`
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	l := s.engine.Limiter()
	writeJSON(w, http.StatusOK, rateLimitStatus{
		VideoID: videoID,
		Remaining: map[string]int{
			string(ratelimit.KindManual):       l.Remaining(videoID, ratelimit.KindManual),
			string(ratelimit.KindPrefetch):     l.Remaining(videoID, ratelimit.KindPrefetch),
			string(ratelimit.KindAutoRecovery): l.Remaining(videoID, ratelimit.KindAutoRecovery),
		},
	})
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Limiter().ResetForKey(chi.URLParam(r, "videoID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	if s.breakers == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, s.breakers.States())
}
