// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldVideoID   = "video_id"
	FieldStreamID  = "stream_id"
	FieldRecordID  = "record_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Resilience fields
	FieldKind        = "kind"
	FieldAttempt     = "attempt"
	FieldStep        = "step"
	FieldAction      = "action"
	FieldOutcome     = "outcome"
	FieldRemaining   = "remaining"
	FieldRetryAfter  = "retry_after"
	FieldPosition    = "position_ms"
	FieldStatusCode  = "status_code"
	FieldHost        = "host"
	FieldQualityCap  = "quality_cap"
	FieldCodecFamily = "codec_family"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
