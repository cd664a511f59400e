// Package quality picks the next lower video rendition when playback has to
// shed bandwidth.
package quality

import "github.com/ManuGH/streamkeeper/internal/media"

// Rule names which step-down rule produced a candidate.
type Rule string

const (
	RuleNone          Rule = ""
	RuleMuxSameHeight Rule = "mux_same_height"
	RuleLowerBitrate  Rule = "lower_bitrate_same_height"
	RuleLowerHeight   Rule = "lower_height"
)

// StepDown returns the next lower track for current, or false when nothing
// strictly lower exists.
func StepDown(current media.VideoTrack, available []media.VideoTrack) (media.VideoTrack, bool) {
	t, rule := Explain(current, available)
	return t, rule != RuleNone
}

// Explain is StepDown plus the rule that fired.
func Explain(current media.VideoTrack, available []media.VideoTrack) (media.VideoTrack, Rule) {
	// Video-only: swapping to muxed at the same height sheds the separate audio fetch.
	if current.VideoOnly {
		if t, ok := best(available, func(t media.VideoTrack) bool {
			return t.Muxed() && t.Height == current.Height
		}); ok {
			return t, RuleMuxSameHeight
		}
	} else if current.Bitrate > 0 {
		if t, ok := best(available, func(t media.VideoTrack) bool {
			return t.Muxed() && t.Height == current.Height && t.Bitrate > 0 && t.Bitrate < current.Bitrate
		}); ok {
			return t, RuleLowerBitrate
		}
	}

	target := 0
	for _, t := range available {
		if t.Height < current.Height && t.Height > target {
			target = t.Height
		}
	}
	if target == 0 {
		return media.VideoTrack{}, RuleNone
	}
	t, _ := best(available, func(t media.VideoTrack) bool { return t.Height == target })
	return t, RuleLowerHeight
}

// best returns the matching track ranked muxed first, then by bitrate.
// Ties keep the first occurrence.
func best(tracks []media.VideoTrack, match func(media.VideoTrack) bool) (media.VideoTrack, bool) {
	var (
		out   media.VideoTrack
		found bool
	)
	for _, t := range tracks {
		if !match(t) {
			continue
		}
		if !found || better(t, out) {
			out, found = t, true
		}
	}
	return out, found
}

func better(a, b media.VideoTrack) bool {
	if a.Muxed() != b.Muxed() {
		return a.Muxed()
	}
	return a.Bitrate > b.Bitrate
}
