// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import "github.com/ManuGH/streamkeeper/internal/media"

// pickVideo returns the pinned track if streams still carry it, otherwise the
// tallest track under capHeight. Ties prefer video-only tracks (muxed when
// progressive playback is forced), then bitrate.
func pickVideo(tracks []media.VideoTrack, capHeight int, selected *media.VideoTrack, forceProgressive bool) (media.VideoTrack, bool) {
	if selected != nil {
		for _, t := range tracks {
			if sameTrack(selected, &t) {
				return t, true
			}
		}
	}

	candidates := tracks
	if forceProgressive {
		var muxed []media.VideoTrack
		for _, t := range tracks {
			if !t.VideoOnly {
				muxed = append(muxed, t)
			}
		}
		if len(muxed) > 0 {
			candidates = muxed
		}
	}

	var best media.VideoTrack
	found := false
	for _, t := range candidates {
		if capHeight > 0 && t.Height > capHeight {
			continue
		}
		if !found || preferred(t, best, forceProgressive) {
			best, found = t, true
		}
	}
	if found {
		return best, true
	}

	// Nothing fits under the cap: fall back to the smallest track.
	for _, t := range candidates {
		if !found || t.Height < best.Height || (t.Height == best.Height && t.Bitrate < best.Bitrate) {
			best, found = t, true
		}
	}
	return best, found
}

func preferred(a, b media.VideoTrack, muxedFirst bool) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.VideoOnly != b.VideoOnly {
		return a.VideoOnly != muxedFirst
	}
	return a.Bitrate > b.Bitrate
}

func pickAudio(tracks []media.AudioTrack) (media.AudioTrack, bool) {
	var best media.AudioTrack
	found := false
	for _, t := range tracks {
		if !found || t.Bitrate > best.Bitrate {
			best, found = t, true
		}
	}
	return best, found
}

// sameTrack compares renditions ignoring URLs, which change on every refresh.
func sameTrack(a, b *media.VideoTrack) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Height == b.Height &&
		a.Bitrate == b.Bitrate &&
		a.VideoOnly == b.VideoOnly &&
		a.Codec == b.Codec
}
