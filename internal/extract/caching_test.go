// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/resolver"
)

type countingExtractor struct {
	calls atomic.Int32
}

func (c *countingExtractor) Resolve(_ context.Context, videoID string) (*media.ResolvedStreams, error) {
	c.calls.Add(1)
	return sample(videoID), nil
}

func TestCachingExtractor_ServesFromMemory(t *testing.T) {
	fc := clock.NewFake(t0)
	next := &countingExtractor{}
	e := NewCachingExtractor(next, cache.NewMemoryCache(fc), 10*time.Minute, WithCacheClock(fc))
	ctx := context.Background()

	first, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)
	second, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first, second)

	fc.Advance(10*time.Minute + time.Second)
	_, err = e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingExtractor_TTLBoundedByURLLifetime(t *testing.T) {
	fc := clock.NewFake(t0.Add(5*time.Hour + 58*time.Minute))
	next := &countingExtractor{}
	e := NewCachingExtractor(next, cache.NewMemoryCache(fc), 30*time.Minute,
		WithCacheClock(fc), WithURLTTL(6*time.Hour))
	ctx := context.Background()

	_, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)

	fc.Advance(2*time.Minute + time.Second)
	_, err = e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "entry must not outlive the URLs")
}

func TestCachingExtractor_ExpiredURLsAreNotCached(t *testing.T) {
	fc := clock.NewFake(t0.Add(7 * time.Hour))
	c := cache.NewMemoryCache(fc)
	e := NewCachingExtractor(&countingExtractor{}, c, 30*time.Minute, WithCacheClock(fc), WithURLTTL(6*time.Hour))

	_, err := e.Resolve(context.Background(), "vid")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Stats(context.Background()).CurrentSize)
}

func TestCachingExtractor_ForceRefreshBypassesCache(t *testing.T) {
	next := &countingExtractor{}
	e := NewCachingExtractor(next, cache.NewMemoryCache(nil), time.Hour)

	r := resolver.New(e)
	defer r.Close()
	ctx := context.Background()

	_, err := r.Resolve(ctx, "vid")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())

	_, err = r.Resolve(ctx, "vid", resolver.WithForceRefresh())
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingExtractor_Invalidate(t *testing.T) {
	next := &countingExtractor{}
	e := NewCachingExtractor(next, cache.NewMemoryCache(nil), time.Hour)
	ctx := context.Background()

	_, _ = e.Resolve(ctx, "vid")
	e.Invalidate(ctx, "vid")
	_, _ = e.Resolve(ctx, "vid")
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingExtractor_CorruptEntryIsDropped(t *testing.T) {
	next := &countingExtractor{}
	c := cache.NewMemoryCache(nil)
	e := NewCachingExtractor(next, c, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "streams:vid", []byte("not json"), time.Hour)
	got, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, "vid", got.StreamID)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachingExtractor_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), cache.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	next := &countingExtractor{}
	e := NewCachingExtractor(next, rc, time.Minute)
	ctx := context.Background()

	first, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.DefaultKeyPrefix+"streams:vid"))

	second, err := e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.True(t, first.ResolvedAt.Equal(second.ResolvedAt))
	assert.Equal(t, first.VideoTracks, second.VideoTracks)

	mr.FastForward(2 * time.Minute)
	_, err = e.Resolve(ctx, "vid")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}
