// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/resolver"
)

const keyPrefix = "streams:"

// CachingExtractor serves recent extractions from a cache. An entry lives for
// the configured TTL but never past the URL lifetime measured from ResolvedAt.
// Forced refreshes skip the lookup and overwrite the entry.
type CachingExtractor struct {
	next   resolver.Extractor
	cache  cache.Cache
	ttl    time.Duration
	urlTTL time.Duration
	clock  clock.Clock
	logger zerolog.Logger
}

// CachingOption configures a CachingExtractor.
type CachingOption func(*CachingExtractor)

// WithCacheClock injects the time source.
func WithCacheClock(c clock.Clock) CachingOption {
	return func(e *CachingExtractor) { e.clock = clock.OrReal(c) }
}

// WithURLTTL bounds entries by the lifetime of the media URLs they hold.
func WithURLTTL(d time.Duration) CachingOption {
	return func(e *CachingExtractor) { e.urlTTL = d }
}

// NewCachingExtractor wraps next with c.
func NewCachingExtractor(next resolver.Extractor, c cache.Cache, ttl time.Duration, opts ...CachingOption) *CachingExtractor {
	e := &CachingExtractor{
		next:   next,
		cache:  c,
		ttl:    ttl,
		clock:  clock.Real(),
		logger: xglog.WithComponent("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve implements resolver.Extractor.
func (e *CachingExtractor) Resolve(ctx context.Context, videoID string) (*media.ResolvedStreams, error) {
	key := keyPrefix + videoID

	if !resolver.ForceRefreshFromContext(ctx) {
		if raw, ok := e.cache.Get(ctx, key); ok {
			var streams media.ResolvedStreams
			if err := json.Unmarshal(raw, &streams); err == nil {
				metrics.IncExtractorCache("hit")
				return &streams, nil
			}
			metrics.IncExtractorCache("error")
			e.logger.Warn().
				Str(xglog.FieldEvent, "extract.cache_corrupt").
				Str(xglog.FieldVideoID, videoID).
				Msg("dropping undecodable cache entry")
			e.cache.Delete(ctx, key)
		} else {
			metrics.IncExtractorCache("miss")
		}
	}

	streams, err := e.next.Resolve(ctx, videoID)
	if err != nil || streams == nil {
		return streams, err
	}

	if ttl := e.entryTTL(streams); ttl > 0 {
		raw, err := json.Marshal(streams)
		if err == nil {
			e.cache.Set(ctx, key, raw, ttl)
		}
	}
	return streams, nil
}

func (e *CachingExtractor) entryTTL(streams *media.ResolvedStreams) time.Duration {
	ttl := e.ttl
	if e.urlTTL > 0 && !streams.ResolvedAt.IsZero() {
		left := e.urlTTL - e.clock.Now().Sub(streams.ResolvedAt)
		if left < ttl {
			ttl = left
		}
	}
	return ttl
}

// Invalidate drops the cached extraction for videoID.
func (e *CachingExtractor) Invalidate(ctx context.Context, videoID string) {
	e.cache.Delete(ctx, keyPrefix+videoID)
}
