package decision

import "github.com/ManuGH/streamkeeper/internal/media"

type AdaptiveKind string

const (
	KindNone               AdaptiveKind = "none"
	KindStandardAdaptive   AdaptiveKind = "standard_adaptive"
	KindSyntheticSingleRep AdaptiveKind = "synthetic_single_rep"
	KindSyntheticMultiRep  AdaptiveKind = "synthetic_multi_rep"
)

type Origin string

const (
	OriginAuto         Origin = "auto"
	OriginManual       Origin = "manual"
	OriginAutoRecovery Origin = "auto_recovery"
)

type Reason string

const (
	ReasonKeyMismatch       Reason = "key_mismatch"
	ReasonNoManifest        Reason = "no_prepared_manifest"
	ReasonKindMismatch      Reason = "adaptive_kind_mismatch"
	ReasonMultiRepReuse     Reason = "multi_rep_reuse"
	ReasonCapChanged        Reason = "quality_cap_changed"
	ReasonNoSelection       Reason = "no_selected_track"
	ReasonHeightChanged     Reason = "height_changed"
	ReasonBitrateChanged    Reason = "bitrate_changed"
	ReasonSameTrack         Reason = "same_track"
	ReasonAdaptiveURLSame   Reason = "adaptive_url_unchanged"
	ReasonAdaptiveURLChange Reason = "adaptive_url_changed"
	ReasonProgressiveReuse  Reason = "progressive_reuse"
)

// StreamKey identifies a pipeline source.
type StreamKey struct {
	StreamID  string `json:"streamId"`
	AudioOnly bool   `json:"audioOnly"`
}

// Prepared describes the pipeline currently built.
type Prepared struct {
	Key                StreamKey         `json:"key"`
	AdaptiveKind       AdaptiveKind      `json:"adaptiveKind"`
	QualityCapHeight   int               `json:"qualityCapHeight,omitempty"`
	SelectedVideoTrack *media.VideoTrack `json:"selectedVideoTrack,omitempty"`
	ManifestURL        string            `json:"manifestUrl"`
}

// Requested describes the pipeline the caller is about to build.
type Requested struct {
	Key                StreamKey         `json:"key"`
	AdaptiveKind       AdaptiveKind      `json:"adaptiveKind"`
	QualityCapHeight   int               `json:"qualityCapHeight,omitempty"`
	SelectedVideoTrack *media.VideoTrack `json:"selectedVideoTrack,omitempty"`
	Origin             Origin            `json:"origin"`
	WouldUseAdaptive   bool              `json:"wouldUseAdaptive"`
	AdaptiveURL        string            `json:"adaptiveUrl,omitempty"`
}

// Result is Hit with the cap to apply (0 = none), or Miss.
type Result struct {
	Hit              bool   `json:"hit"`
	QualityCapHeight int    `json:"qualityCapHeight,omitempty"`
	Reason           Reason `json:"reason"`
}

func hit(capHeight int, reason Reason) Result {
	return Result{Hit: true, QualityCapHeight: capHeight, Reason: reason}
}

func miss(reason Reason) Result {
	return Result{Reason: reason}
}

// EvaluateCacheHit decides whether the prepared pipeline can serve the
// requested one without a rebuild.
func EvaluateCacheHit(prepared Prepared, requested Requested) Result {
	if prepared.Key != requested.Key {
		return miss(ReasonKeyMismatch)
	}
	if prepared.ManifestURL == "" {
		return miss(ReasonNoManifest)
	}

	kind := requested.effectiveKind()
	if normalizeKind(prepared.AdaptiveKind) != kind {
		return miss(ReasonKindMismatch)
	}

	switch kind {
	case KindSyntheticMultiRep:
		// Every quality is in the manifest; the track selector enforces the cap.
		return hit(requested.QualityCapHeight, ReasonMultiRepReuse)

	case KindSyntheticSingleRep:
		return evaluateSingleRep(prepared, requested)

	case KindStandardAdaptive:
		if prepared.ManifestURL == requested.AdaptiveURL {
			return hit(0, ReasonAdaptiveURLSame)
		}
		return miss(ReasonAdaptiveURLChange)

	default:
		return hit(0, ReasonProgressiveReuse)
	}
}

func evaluateSingleRep(prepared Prepared, requested Requested) Result {
	if prepared.QualityCapHeight != requested.QualityCapHeight {
		return miss(ReasonCapChanged)
	}
	have, want := prepared.SelectedVideoTrack, requested.SelectedVideoTrack
	if have == nil || want == nil {
		return miss(ReasonNoSelection)
	}
	if have.Height != want.Height {
		return miss(ReasonHeightChanged)
	}
	// Unknown bitrate on either side counts as a match.
	if requested.Origin != OriginManual && have.Bitrate > 0 && want.Bitrate > 0 && have.Bitrate != want.Bitrate {
		return miss(ReasonBitrateChanged)
	}
	return hit(0, ReasonSameTrack)
}

// effectiveKind treats a request that would not use adaptive playback as progressive.
func (r Requested) effectiveKind() AdaptiveKind {
	if !r.WouldUseAdaptive {
		return KindNone
	}
	return normalizeKind(r.AdaptiveKind)
}

func normalizeKind(k AdaptiveKind) AdaptiveKind {
	switch k {
	case KindStandardAdaptive, KindSyntheticSingleRep, KindSyntheticMultiRep:
		return k
	default:
		return KindNone
	}
}
