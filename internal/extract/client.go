// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package extract talks to the stream extraction sidecar and decorates it
// with caching and a circuit breaker.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/failure"
	"github.com/ManuGH/streamkeeper/internal/media"
)

const (
	defaultTimeout        = 20 * time.Second
	defaultDialTimeout    = 3 * time.Second
	defaultUserAgent      = "streamkeeper/1"
	maxErrorBody          = 4 << 10
	maxResponseBody int64 = 8 << 20
)

// ErrNotConfigured is returned when no sidecar URL is set.
var ErrNotConfigured = errors.New("extract: extractor URL not configured")

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       string
	Kind       failure.Kind
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extract: sidecar returned HTTP %d (%s)", e.StatusCode, e.Kind)
}

// Countable reports whether err says something about sidecar health.
// Client-side rejections such as geo blocks do not.
func Countable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// ClientOptions configures the sidecar client.
type ClientOptions struct {
	Timeout   time.Duration
	UserAgent string
	Clock     clock.Clock
}

// Client resolves streams through the sidecar's HTTP API:
// GET {base}/v1/streams/{videoID} returning media.ResolvedStreams as JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	clock      clock.Clock
}

// NewClient creates a sidecar client.
func NewClient(baseURL string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: dialTimeout,
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		userAgent: ua,
		clock:     clock.OrReal(opts.Clock),
	}
}

// Resolve implements resolver.Extractor.
func (c *Client) Resolve(ctx context.Context, videoID string) (*media.ResolvedStreams, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	endpoint := c.baseURL + "/v1/streams/" + url.PathEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: request %s: %w", videoID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       string(body),
			Kind:       failure.Classify(resp.StatusCode, resp.Header, string(body)),
		}
	}

	var streams media.ResolvedStreams
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&streams); err != nil {
		return nil, fmt.Errorf("extract: decode %s: %w", videoID, err)
	}
	if streams.StreamID == "" {
		streams.StreamID = videoID
	}
	if streams.ResolvedAt.IsZero() {
		streams.ResolvedAt = c.clock.Now()
	}
	return &streams, nil
}
