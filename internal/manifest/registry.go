// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manifest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/streamkeeper/internal/clock"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

const (
	DefaultCapacity = 5
	DefaultTTL      = 2 * time.Minute
)

// EntryMetadata describes the tracks a registered manifest was built from.
type EntryMetadata struct {
	VideoTracks []media.VideoTrack `json:"videoTracks"`
	AudioTrack  media.AudioTrack   `json:"audioTrack"`
	CodecFamily string             `json:"codecFamily"`
}

// Entry is one registered manifest.
type Entry struct {
	VideoID      string         `json:"videoId"`
	ManifestXML  string         `json:"-"`
	Metadata     *EntryMetadata `json:"metadata,omitempty"`
	RegisteredAt time.Time      `json:"registeredAt"`
	Fingerprint  uint64         `json:"fingerprint"`
}

// URL is the stable synthetic address of the entry's manifest. It changes
// whenever the manifest content changes.
func (e Entry) URL() string {
	return ManifestURL(e.VideoID, e.Fingerprint)
}

// ManifestURL builds the synthetic manifest address for videoID.
func ManifestURL(videoID string, fingerprint uint64) string {
	return fmt.Sprintf("synthetic://%s/%016x.mpd", videoID, fingerprint)
}

// Fingerprint hashes manifest content.
func Fingerprint(manifestXML string) uint64 {
	return xxh3.HashString(manifestXML)
}

// RegistryConfig bounds the registry.
type RegistryConfig struct {
	Capacity int
	TTL      time.Duration
}

// Registry is a capacity and TTL bounded store of generated manifests.
// Eviction is by oldest registration; re-registering an id makes it newest.
type Registry struct {
	cfg    RegistryConfig
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	order   []string

	group singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock injects the time source.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock.OrReal(c) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry. Non-positive config values fall back to defaults.
func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) *Registry {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	r := &Registry{
		cfg:     cfg,
		clock:   clock.Real(),
		logger:  xglog.WithComponent("manifest"),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a manifest without track metadata. Such entries are
// served by Get but never reported fresh.
func (r *Registry) Register(videoID, manifestXML string) Entry {
	return r.RegisterWithMetadata(videoID, manifestXML, nil)
}

// RegisterWithMetadata stores a manifest with the tracks it was built from.
func (r *Registry) RegisterWithMetadata(videoID, manifestXML string, meta *EntryMetadata) Entry {
	e := Entry{
		VideoID:      videoID,
		ManifestXML:  manifestXML,
		Metadata:     meta,
		RegisteredAt: r.clock.Now(),
		Fingerprint:  Fingerprint(manifestXML),
	}

	r.mu.Lock()
	if _, ok := r.entries[videoID]; ok {
		r.removeOrderLocked(videoID)
	}
	r.entries[videoID] = e
	r.order = append(r.order, videoID)

	var evicted []string
	for len(r.order) > r.cfg.Capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
		evicted = append(evicted, oldest)
	}
	n := len(r.entries)
	r.mu.Unlock()

	metrics.SetManifestRegistryEntries(n)
	for _, id := range evicted {
		metrics.IncManifestEviction()
		r.logger.Debug().
			Str(xglog.FieldEvent, "manifest.evicted").
			Str(xglog.FieldVideoID, id).
			Msg("registry full, evicted oldest manifest")
	}
	return e
}

// Unregister removes videoID immediately. It reports whether an entry existed.
func (r *Registry) Unregister(videoID string) bool {
	r.mu.Lock()
	_, ok := r.entries[videoID]
	if ok {
		delete(r.entries, videoID)
		r.removeOrderLocked(videoID)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		metrics.SetManifestRegistryEntries(n)
	}
	return ok
}

// Get returns the entry for videoID regardless of age.
func (r *Registry) Get(videoID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[videoID]
	return e, ok
}

// IsFresh reports whether videoID has a metadata entry no older than the TTL.
func (r *Registry) IsFresh(videoID string) bool {
	_, ok := r.GetFreshEntry(videoID)
	return ok
}

// GetFreshEntry returns the entry for videoID if it is fresh.
func (r *Registry) GetFreshEntry(videoID string) (Entry, bool) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[videoID]
	if !ok || !r.freshLocked(e, now) {
		return Entry{}, false
	}
	return e, true
}

func (r *Registry) freshLocked(e Entry, now time.Time) bool {
	return e.Metadata != nil && now.Sub(e.RegisteredAt) <= r.cfg.TTL
}

// GetOrGenerate returns the fresh entry for videoID, or runs generate once
// for all concurrent callers and registers its result.
func (r *Registry) GetOrGenerate(videoID string, generate func() (Result, error)) (Entry, error) {
	if e, ok := r.GetFreshEntry(videoID); ok {
		return e, nil
	}

	v, err, shared := r.group.Do(videoID, func() (any, error) {
		if e, ok := r.GetFreshEntry(videoID); ok {
			return e, nil
		}
		res, err := generate()
		metrics.IncManifestGeneration(Reason(err))
		if err != nil {
			return Entry{}, err
		}
		return r.RegisterWithMetadata(videoID, res.ManifestXML, res.Metadata()), nil
	})
	if err != nil {
		r.logger.Debug().
			Err(err).
			Str(xglog.FieldEvent, "manifest.generate_failed").
			Str(xglog.FieldVideoID, videoID).
			Bool("shared", shared).
			Msg("synthetic manifest unavailable")
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Prune drops entries registered more than maxAge ago and returns how many
// were removed.
func (r *Registry) Prune(maxAge time.Duration) int {
	now := r.clock.Now()
	r.mu.Lock()
	kept := r.order[:0]
	removed := 0
	for _, id := range r.order {
		if now.Sub(r.entries[id].RegisteredAt) > maxAge {
			delete(r.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	n := len(r.entries)
	r.mu.Unlock()

	if removed > 0 {
		metrics.SetManifestRegistryEntries(n)
	}
	return removed
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns registered ids, oldest first.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]Entry)
	r.order = nil
	r.mu.Unlock()
	metrics.SetManifestRegistryEntries(0)
}

func (r *Registry) removeOrderLocked(videoID string) {
	for i, id := range r.order {
		if id == videoID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
