// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/streamkeeper/internal/failure"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

const maxRequestBody = 1 << 20

// failureRequest is the wire form of a failure report. Durations are in
// milliseconds.
type failureRequest struct {
	VideoID            string              `json:"videoId"`
	StreamType         string              `json:"streamType"`
	RequestURL         string              `json:"requestUrl"`
	RequestHeaders     map[string][]string `json:"requestHeaders"`
	ResponseCode       int                 `json:"responseCode"`
	ResponseHeaders    map[string][]string `json:"responseHeaders"`
	ResponseBody       string              `json:"responseBody"`
	PlaybackPositionMs int64               `json:"playbackPositionMs"`
	StreamAgeMs        int64               `json:"streamAgeMs"`
}

func (f failureRequest) report() failure.Report {
	return failure.Report{
		VideoID:          f.VideoID,
		StreamType:       f.StreamType,
		RequestURL:       f.RequestURL,
		RequestHeaders:   f.RequestHeaders,
		ResponseCode:     f.ResponseCode,
		ResponseHeaders:  f.ResponseHeaders,
		ResponseBody:     f.ResponseBody,
		PlaybackPosition: time.Duration(f.PlaybackPositionMs) * time.Millisecond,
		StreamAge:        time.Duration(f.StreamAgeMs) * time.Millisecond,
	}
}

type classifyResponse struct {
	Kind         failure.Kind `json:"kind"`
	Terminal     bool         `json:"terminal"`
	RetryAfterMs int64        `json:"retryAfterMs,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// handleClassify classifies a response without recording it.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind := failure.Classify(req.ResponseCode, req.ResponseHeaders, req.ResponseBody)
	resp := classifyResponse{Kind: kind, Terminal: kind.Terminal()}
	if d, ok := failure.RetryAfter(req.ResponseHeaders, time.Now()); ok {
		resp.RetryAfterMs = d.Milliseconds()
	}
	trace.SpanFromContext(r.Context()).SetAttributes(telemetry.FailureAttributes(string(kind), resp.RetryAfterMs)...)
	writeJSON(w, http.StatusOK, resp)
}

// handleRecordFailure classifies and records a failure in the history.
func (s *Server) handleRecordFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec := s.engine.Classifier().Record(req.report())
	trace.SpanFromContext(r.Context()).SetAttributes(telemetry.FailureAttributes(string(rec.Kind), 0)...)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Classifier()
	var records []failure.Record
	if videoID := r.URL.Query().Get("videoId"); videoID != "" {
		records = c.RecordsFor(videoID)
	} else {
		records = c.Records()
	}
	if records == nil {
		records = []failure.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleClearFailures(w http.ResponseWriter, _ *http.Request) {
	s.engine.Classifier().ClearRecords()
	w.WriteHeader(http.StatusNoContent)
}

type expiryResponse struct {
	VideoID     string `json:"videoId"`
	Tracked     bool   `json:"tracked"`
	RemainingMs int64  `json:"remainingMs,omitempty"`
	Preemptive  bool   `json:"refreshPreemptively"`
	Critical    bool   `json:"critical"`
}

func (s *Server) handleExpiry(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	c := s.engine.Classifier()
	resp := expiryResponse{VideoID: videoID}
	if remaining, ok := c.EstimatedTTLRemaining(videoID); ok {
		resp.Tracked = true
		resp.RemainingMs = remaining.Milliseconds()
		resp.Preemptive = c.ShouldRefreshPreemptively(videoID)
		resp.Critical = c.IsCritical(videoID)
	}
	writeJSON(w, http.StatusOK, resp)
}
