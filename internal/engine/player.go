// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/streamkeeper/internal/decision"
	"github.com/ManuGH/streamkeeper/internal/degradation"
	"github.com/ManuGH/streamkeeper/internal/media"
	"github.com/ManuGH/streamkeeper/internal/recovery"
)

// Player is the playback pipeline driven by a Session. Query methods may be
// called while the session holds internal locks and must not call back into it.
type Player interface {
	Position() time.Duration
	BufferedAhead() time.Duration
	Playing() bool
	CurrentTrack() (media.VideoTrack, bool)

	// Prepare builds a new pipeline from src.
	Prepare(src Source)
	RePrepare()
	SeekTo(position time.Duration)
	RebuildMediaSource()
	SwitchTrack(track media.VideoTrack)
}

// Source is everything the player needs to build a pipeline.
type Source struct {
	StreamID         string                `json:"streamId"`
	Kind             decision.AdaptiveKind `json:"kind"`
	ManifestURL      string                `json:"manifestUrl"`
	ManifestXML      string                `json:"-"`
	Video            *media.VideoTrack     `json:"video,omitempty"`
	Audio            *media.AudioTrack     `json:"audio,omitempty"`
	QualityCapHeight int                   `json:"qualityCapHeight,omitempty"`
	HLSFallback      bool                  `json:"hlsFallback,omitempty"`
	StartPosition    time.Duration         `json:"startPosition"`
}

// Adaptive reports whether the source is played through a manifest.
func (s Source) Adaptive() bool {
	return s.Kind != decision.KindNone && s.Kind != ""
}

// Listener receives session events. Events may be delivered while a session
// operation is running; listeners must not call back into the session
// synchronously.
type Listener interface {
	OnRecoveryStarted(step recovery.Step, attempt int)
	OnRecoverySucceeded()
	OnStreamUnavailable()
	OnDegradationApplied(action degradation.Action)
	OnBudgetStateChanged(from, to degradation.State)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnRecoveryStarted(recovery.Step, int)                      {}
func (NopListener) OnRecoverySucceeded()                                      {}
func (NopListener) OnStreamUnavailable()                                      {}
func (NopListener) OnDegradationApplied(degradation.Action)                   {}
func (NopListener) OnBudgetStateChanged(degradation.State, degradation.State) {}
