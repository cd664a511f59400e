// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Resolution attributes
	VideoIDKey      = "stream.video_id"
	JobIDKey        = "stream.job_id"
	ForceRefreshKey = "stream.force_refresh"
	VideoTracksKey  = "stream.video_tracks"
	AudioTracksKey  = "stream.audio_tracks"

	// Failure attributes
	FailureKindKey = "failure.kind"
	RetryAfterKey  = "failure.retry_after_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ResolveAttributes describes one resolution job.
func ResolveAttributes(videoID, jobID string, force bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if videoID != "" {
		attrs = append(attrs, attribute.String(VideoIDKey, videoID))
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	return append(attrs, attribute.Bool(ForceRefreshKey, force))
}

// TrackAttributes records how many renditions a resolution returned.
func TrackAttributes(video, audio int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(VideoTracksKey, video),
		attribute.Int(AudioTracksKey, audio),
	}
}

// FailureAttributes describes a classified playback failure.
func FailureAttributes(kind string, retryAfterMS int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(FailureKindKey, kind)}
	if retryAfterMS > 0 {
		attrs = append(attrs, attribute.Int64(RetryAfterKey, retryAfterMS))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
