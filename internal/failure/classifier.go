// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package failure

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

// Config holds classifier limits and URL TTL estimation thresholds.
type Config struct {
	RecordCapacity      int
	BodyLimit           int
	FullTTL             time.Duration
	PreemptiveThreshold time.Duration
	CriticalThreshold   time.Duration
	// TrackedVideos bounds the resolution-timestamp table.
	TrackedVideos int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RecordCapacity:      50,
		BodyLimit:           1000,
		FullTTL:             6 * time.Hour,
		PreemptiveThreshold: 30 * time.Minute,
		CriticalThreshold:   10 * time.Minute,
		TrackedVideos:       1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecordCapacity <= 0 {
		c.RecordCapacity = d.RecordCapacity
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = d.BodyLimit
	}
	if c.FullTTL <= 0 {
		c.FullTTL = d.FullTTL
	}
	if c.PreemptiveThreshold <= 0 {
		c.PreemptiveThreshold = d.PreemptiveThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.TrackedVideos <= 0 {
		c.TrackedVideos = d.TrackedVideos
	}
	return c
}

// Report is the raw failure as delivered by the playback collaborator.
// Every field is optional.
type Report struct {
	VideoID          string
	StreamType       string
	RequestURL       string
	RequestHeaders   map[string][]string
	ResponseCode     int
	ResponseHeaders  map[string][]string
	ResponseBody     string
	PlaybackPosition time.Duration
	StreamAge        time.Duration
}

// Record is one entry of the diagnostic history.
type Record struct {
	ID               string              `json:"id"`
	VideoID          string              `json:"videoId,omitempty"`
	StreamType       string              `json:"streamType,omitempty"`
	RequestHost      string              `json:"requestHost"`
	RequestHeaders   map[string][]string `json:"requestHeaders,omitempty"`
	ResponseCode     int                 `json:"responseCode"`
	ResponseHeaders  map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody     string              `json:"responseBody,omitempty"`
	Kind             Kind                `json:"kind"`
	PlaybackPosition time.Duration       `json:"playbackPosition"`
	StreamAge        time.Duration       `json:"streamAge"`
	Timestamp        time.Time           `json:"timestamp"`
}

// Sink receives every recorded failure. Publish must not block.
type Sink interface {
	Publish(rec Record)
}

// Classifier records classified failures and estimates URL validity.
type Classifier struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	sink   Sink

	mu      sync.Mutex
	records *ring[Record]

	resolved otter.Cache[string, time.Time]

	logSampler rate.Sometimes
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(cl *Classifier) { cl.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Classifier) { cl.logger = l }
}

// WithSink forwards every record to s.
func WithSink(s Sink) Option {
	return func(cl *Classifier) { cl.sink = s }
}

// New creates a classifier. Invalid config values fall back to defaults.
func New(cfg Config, opts ...Option) *Classifier {
	cfg = cfg.withDefaults()
	resolved, err := otter.MustBuilder[string, time.Time](cfg.TrackedVideos).
		Cost(func(_ string, _ time.Time) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("failure: failed to create resolution table: " + err.Error())
	}
	c := &Classifier{
		cfg:        cfg,
		clock:      clock.Real(),
		logger:     xglog.WithComponent("failure"),
		records:    newRing[Record](cfg.RecordCapacity),
		resolved:   resolved,
		logSampler: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record classifies the report and appends it to the history.
func (c *Classifier) Record(rep Report) Record {
	kind := Classify(rep.ResponseCode, rep.ResponseHeaders, rep.ResponseBody)
	rec := Record{
		ID:               uuid.NewString(),
		VideoID:          rep.VideoID,
		StreamType:       rep.StreamType,
		RequestHost:      hostOf(rep.RequestURL),
		RequestHeaders:   redactHeaders(rep.RequestHeaders),
		ResponseCode:     rep.ResponseCode,
		ResponseHeaders:  redactHeaders(rep.ResponseHeaders),
		ResponseBody:     truncate(rep.ResponseBody, c.cfg.BodyLimit),
		Kind:             kind,
		PlaybackPosition: rep.PlaybackPosition,
		StreamAge:        rep.StreamAge,
		Timestamp:        c.clock.Now(),
	}

	c.mu.Lock()
	c.records.push(rec)
	c.mu.Unlock()

	metrics.IncFailureClassified(string(kind))
	c.logSampler.Do(func() {
		c.logger.Warn().
			Str(xglog.FieldEvent, "failure.recorded").
			Str(xglog.FieldVideoID, rec.VideoID).
			Str(xglog.FieldKind, string(kind)).
			Int(xglog.FieldStatusCode, rec.ResponseCode).
			Str(xglog.FieldHost, rec.RequestHost).
			Msg("media request failed")
	})

	if c.sink != nil {
		c.sink.Publish(rec)
	}
	return rec
}

// Records returns the history, oldest first.
func (c *Classifier) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records.items()
}

// RecordsFor returns the history entries for one video, oldest first.
func (c *Classifier) RecordsFor(videoID string) []Record {
	all := c.Records()
	out := all[:0]
	for _, r := range all {
		if r.VideoID == videoID {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of stored records.
func (c *Classifier) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records.len()
}

// ClearRecords drops the history.
func (c *Classifier) ClearRecords() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records.reset()
}

// OnResolved stamps a fresh resolution of videoID.
func (c *Classifier) OnResolved(videoID string) {
	c.OnResolvedAt(videoID, time.Time{})
}

// OnResolvedAt stamps a resolution of videoID that the extractor performed at
// at, as reported for cached extractions. A zero or future at means now.
func (c *Classifier) OnResolvedAt(videoID string, at time.Time) {
	if videoID == "" {
		return
	}
	now := c.clock.Now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	c.resolved.Set(videoID, at)
}

// Forget drops the resolution stamp of videoID.
func (c *Classifier) Forget(videoID string) {
	c.resolved.Delete(videoID)
}

// EstimatedTTLRemaining returns max(0, resolvedAt+FullTTL-now). ok is false
// when videoID was never resolved.
func (c *Classifier) EstimatedTTLRemaining(videoID string) (remaining time.Duration, ok bool) {
	at, found := c.resolved.Get(videoID)
	if !found {
		return 0, false
	}
	remaining = at.Add(c.cfg.FullTTL).Sub(c.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ShouldRefreshPreemptively reports whether the URL is close enough to expiry
// that a background refresh should start.
func (c *Classifier) ShouldRefreshPreemptively(videoID string) bool {
	remaining, ok := c.EstimatedTTLRemaining(videoID)
	return ok && remaining < c.cfg.PreemptiveThreshold
}

// IsCritical reports whether the URL is about to expire.
func (c *Classifier) IsCritical(videoID string) bool {
	remaining, ok := c.EstimatedTTLRemaining(videoID)
	return ok && remaining < c.cfg.CriticalThreshold
}

// Close releases the resolution table.
func (c *Classifier) Close() {
	c.resolved.Close()
}
