// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/streamkeeper/internal/engine"
	"github.com/ManuGH/streamkeeper/internal/extract"
	"github.com/ManuGH/streamkeeper/internal/resilience"
	"github.com/ManuGH/streamkeeper/internal/resolver"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error        string `json:"error"`
	Detail       string `json:"detail,omitempty"`
	Kind         string `json:"kind,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: "bad_request", Detail: detail})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, apiError{Error: "not_found"})
}

// writeError maps engine and resolver errors onto HTTP statuses and marks
// the request span as failed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classifyError(err)
	trace.SpanFromContext(r.Context()).SetAttributes(telemetry.ErrorAttributes(err, body.Error)...)
	if body.RetryAfterMs > 0 {
		secs := int(math.Ceil(float64(body.RetryAfterMs) / 1000))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	writeJSON(w, code, body)
}

func classifyError(err error) (int, apiError) {
	var limited *engine.LimitedError
	var upstream *extract.StatusError

	switch {
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, apiError{
			Error:        "rate_limited",
			Detail:       string(limited.Decision.Outcome),
			RetryAfterMs: max(limited.Decision.Delay.Milliseconds(), 1),
		}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, apiError{Error: "extractor_failed", Detail: err.Error(), Kind: string(upstream.Kind)}
	case errors.Is(err, resolver.ErrWaitTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, apiError{Error: "timeout", Detail: err.Error()}
	case errors.Is(err, resolver.ErrJobCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict, apiError{Error: "cancelled", Detail: err.Error()}
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, extract.ErrNotConfigured):
		return http.StatusServiceUnavailable, apiError{Error: "unavailable", Detail: err.Error()}
	case errors.Is(err, engine.ErrNotPrepared):
		return http.StatusConflict, apiError{Error: "not_prepared", Detail: err.Error()}
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusGone, apiError{Error: "session_closed", Detail: err.Error()}
	default:
		return http.StatusBadGateway, apiError{Error: "resolve_failed", Detail: err.Error()}
	}
}
