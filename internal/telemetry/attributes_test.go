// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/resolve/{videoID}", 200)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/v1/resolve/{videoID}")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestResolveAttributes(t *testing.T) {
	tests := []struct {
		name    string
		videoID string
		jobID   string
		force   bool
		wantLen int
	}{
		{name: "all fields", videoID: "dQw4w9WgXcQ", jobID: "job-1", force: true, wantLen: 3},
		{name: "only video", videoID: "dQw4w9WgXcQ", wantLen: 2},
		{name: "empty fields", wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := ResolveAttributes(tt.videoID, tt.jobID, tt.force)
			if len(attrs) != tt.wantLen {
				t.Fatalf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.videoID != "" {
				verifyAttribute(t, attrs, VideoIDKey, tt.videoID)
			}
			if tt.jobID != "" {
				verifyAttribute(t, attrs, JobIDKey, tt.jobID)
			}
			verifyBoolAttribute(t, attrs, ForceRefreshKey, tt.force)
		})
	}
}

func TestTrackAttributes(t *testing.T) {
	attrs := TrackAttributes(6, 3)
	verifyIntAttribute(t, attrs, VideoTracksKey, 6)
	verifyIntAttribute(t, attrs, AudioTracksKey, 3)
}

func TestFailureAttributes(t *testing.T) {
	attrs := FailureAttributes("RATE_LIMITED", 12000)
	verifyAttribute(t, attrs, FailureKindKey, "RATE_LIMITED")
	verifyInt64Attribute(t, attrs, RetryAfterKey, 12000)

	if got := FailureAttributes("GEO_RESTRICTED", 0); len(got) != 1 {
		t.Fatalf("Expected retry-after to be omitted, got %d attributes", len(got))
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("dial tcp: timeout"), "network_error")

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "network_error")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
