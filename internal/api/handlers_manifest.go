// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamkeeper/internal/decision"
	"github.com/ManuGH/streamkeeper/internal/manifest"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

type manifestSummary struct {
	VideoID      string    `json:"videoId"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registeredAt"`
	Fresh        bool      `json:"fresh"`
	CodecFamily  string    `json:"codecFamily,omitempty"`
	Renditions   int       `json:"renditions"`
}

func (s *Server) handleManifests(w http.ResponseWriter, _ *http.Request) {
	reg := s.engine.Manifests()
	ids := reg.IDs()
	sort.Strings(ids)

	out := make([]manifestSummary, 0, len(ids))
	for _, id := range ids {
		e, ok := reg.Get(id)
		if !ok {
			continue
		}
		out = append(out, summarize(e, reg.IsFresh(id)))
	}
	writeJSON(w, http.StatusOK, out)
}

func summarize(e manifest.Entry, fresh bool) manifestSummary {
	sum := manifestSummary{
		VideoID:      e.VideoID,
		URL:          e.URL(),
		RegisteredAt: e.RegisteredAt,
		Fresh:        fresh,
	}
	if e.Metadata != nil {
		sum.CodecFamily = e.Metadata.CodecFamily
		sum.Renditions = len(e.Metadata.VideoTracks)
	}
	return sum
}

// handleManifest serves the registered MPD. Stale entries are not served.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine.Manifests().GetFreshEntry(chi.URLParam(r, "videoID"))
	if !ok {
		writeNotFound(w)
		return
	}
	w.Header().Set("Content-Type", "application/dash+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", `"`+e.URL()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.ManifestXML))
}

func (s *Server) handleManifestDelete(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Manifests().Unregister(chi.URLParam(r, "videoID")) {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decideRequest struct {
	Prepared  decision.Prepared  `json:"prepared"`
	Requested decision.Requested `json:"requested"`
}

type decideResponse struct {
	decision.Result
	Request decision.RequestSummary `json:"request"`
	Summary decision.ResultSummary  `json:"summary"`
}

// handleDecide evaluates whether a pipeline rebuild can be skipped.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := decision.EvaluateCacheHit(req.Prepared, req.Requested)
	metrics.IncCacheHitDecision(string(req.Requested.AdaptiveKind), res.Hit)
	writeJSON(w, http.StatusOK, decideResponse{
		Result:  res,
		Request: req.Requested.Summary(),
		Summary: res.Summary(),
	})
}
