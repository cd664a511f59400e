// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/failure"
	"github.com/ManuGH/streamkeeper/internal/media"
)

var t0 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

func sample(id string) *media.ResolvedStreams {
	return &media.ResolvedStreams{
		StreamID: id,
		VideoTracks: []media.VideoTrack{
			{URL: "https://cdn.example/v720", MimeType: "video/mp4", Codec: "avc1.4d401f", Height: 720, Bitrate: 2_000_000},
		},
		AudioTracks: []media.AudioTrack{
			{URL: "https://cdn.example/a", MimeType: "audio/mp4", Codec: "mp4a.40.2", Bitrate: 128_000},
		},
		Duration:   3 * time.Minute,
		ResolvedAt: t0,
	}
}

func TestClient_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/streams/abc%2F1", r.URL.EscapedPath())
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(sample("abc/1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", ClientOptions{UserAgent: "test-agent"})
	got, err := c.Resolve(context.Background(), "abc/1")
	require.NoError(t, err)
	assert.Equal(t, sample("abc/1"), got)
}

func TestClient_FillsMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"videoTracks":[],"audioTracks":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{Clock: clock.NewFake(t0)})
	got, err := c.Resolve(context.Background(), "vid")
	require.NoError(t, err)
	assert.Equal(t, "vid", got.StreamID)
	assert.Equal(t, t0, got.ResolvedAt)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		wantKind  failure.Kind
		countable bool
	}{
		{name: "geo", code: http.StatusForbidden, body: "This video is not available in your country", wantKind: failure.KindGeoRestricted},
		{name: "throttled", code: http.StatusTooManyRequests, body: "slow down", wantKind: failure.KindRateLimited, countable: true},
		{name: "sidecar broken", code: http.StatusBadGateway, body: "upstream", wantKind: failure.KindHTTPError, countable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, ClientOptions{}).Resolve(context.Background(), "vid")
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.StatusCode)
			assert.Equal(t, tt.body, se.Body)
			assert.Equal(t, tt.wantKind, se.Kind)
			assert.Equal(t, tt.countable, Countable(err))
		})
	}
}

func TestClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"videoTracks":`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, ClientOptions{}).Resolve(context.Background(), "vid")
	assert.ErrorContains(t, err, "decode vid")
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", ClientOptions{}).Resolve(context.Background(), "vid")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCountable(t *testing.T) {
	assert.False(t, Countable(context.Canceled))
	assert.False(t, Countable(context.DeadlineExceeded))
	assert.True(t, Countable(errors.New("connection refused")))
	assert.False(t, Countable(&StatusError{StatusCode: http.StatusNotFound}))
}
