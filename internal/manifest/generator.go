// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manifest builds static DASH manifests over progressive renditions
// that carry byte-range segment metadata, and keeps the recent ones in a
// small TTL-bounded registry.
package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ManuGH/streamkeeper/internal/media"
)

// Ineligibility reasons, checked in this order.
var (
	ErrNoDuration                  = errors.New("manifest: media duration unknown")
	ErrInsufficientVideoTracks     = errors.New("manifest: fewer than two video tracks with segment metadata")
	ErrInsufficientSameCodecTracks = errors.New("manifest: fewer than two video tracks share a codec family")
	ErrNoEligibleAudio             = errors.New("manifest: no audio track with segment metadata")
)

// Reason maps an eligibility error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoDuration):
		return "no_duration"
	case errors.Is(err, ErrInsufficientVideoTracks):
		return "insufficient_video_tracks"
	case errors.Is(err, ErrInsufficientSameCodecTracks):
		return "insufficient_same_codec_tracks"
	case errors.Is(err, ErrNoEligibleAudio):
		return "no_eligible_audio"
	default:
		return "error"
	}
}

const (
	mpdNamespace = "urn:mpeg:dash:schema:mpd:2011"
	mpdProfile   = "urn:mpeg:dash:profile:isoff-on-demand:2011"
)

// Result is a generated manifest and the tracks it references.
type Result struct {
	ManifestXML string
	VideoTracks []media.VideoTrack
	AudioTrack  media.AudioTrack
	CodecFamily string
}

// Metadata returns the registry metadata describing r.
func (r Result) Metadata() *EntryMetadata {
	return &EntryMetadata{
		VideoTracks: r.VideoTracks,
		AudioTrack:  r.AudioTrack,
		CodecFamily: r.CodecFamily,
	}
}

type plan struct {
	video  []media.VideoTrack
	audio  media.AudioTrack
	family string
}

// CheckEligibility reports why resolved cannot back a multi-representation
// manifest under capHeight (0 = no cap), or nil if it can.
func CheckEligibility(resolved *media.ResolvedStreams, capHeight int) error {
	_, err := buildPlan(resolved, capHeight)
	return err
}

// Generate builds a static DASH manifest with one video adaptation set holding
// every same-codec track under capHeight and one audio adaptation set.
func Generate(resolved *media.ResolvedStreams, capHeight int) (Result, error) {
	p, err := buildPlan(resolved, capHeight)
	if err != nil {
		return Result{}, err
	}
	out, err := render(resolved, p)
	if err != nil {
		return Result{}, err
	}
	return Result{ManifestXML: out, VideoTracks: p.video, AudioTrack: p.audio, CodecFamily: p.family}, nil
}

// GenerateForTrack builds a single-representation manifest pinned to track.
// The track and a matching audio track must carry segment metadata.
func GenerateForTrack(resolved *media.ResolvedStreams, track media.VideoTrack) (Result, error) {
	if !resolved.HasDuration() {
		return Result{}, ErrNoDuration
	}
	if !track.Dash.Usable() {
		return Result{}, ErrInsufficientVideoTracks
	}
	audio, ok := pickAudio(resolved.AudioTracks, media.Container(track.MimeType))
	if !ok {
		return Result{}, ErrNoEligibleAudio
	}
	p := plan{video: []media.VideoTrack{track}, audio: audio, family: familyOf(track)}
	out, err := render(resolved, p)
	if err != nil {
		return Result{}, err
	}
	return Result{ManifestXML: out, VideoTracks: p.video, AudioTrack: audio, CodecFamily: p.family}, nil
}

func buildPlan(resolved *media.ResolvedStreams, capHeight int) (plan, error) {
	if !resolved.HasDuration() {
		return plan{}, ErrNoDuration
	}

	var candidates []media.VideoTrack
	for _, t := range resolved.VideoTracks {
		// Muxed renditions would double the audio adaptation set.
		if !t.VideoOnly || !t.Dash.Usable() || t.Height <= 0 {
			continue
		}
		if capHeight > 0 && t.Height > capHeight {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) < 2 {
		return plan{}, ErrInsufficientVideoTracks
	}

	groups := make(map[string][]media.VideoTrack)
	var families []string
	for _, t := range candidates {
		f := familyOf(t)
		if _, ok := groups[f]; !ok {
			families = append(families, f)
		}
		groups[f] = append(groups[f], t)
	}
	family := families[0]
	for _, f := range families[1:] {
		if len(groups[f]) > len(groups[family]) ||
			(len(groups[f]) == len(groups[family]) && maxHeight(groups[f]) > maxHeight(groups[family])) {
			family = f
		}
	}
	video := groups[family]
	if len(video) < 2 {
		return plan{}, ErrInsufficientSameCodecTracks
	}
	sort.SliceStable(video, func(i, j int) bool {
		if video[i].Height != video[j].Height {
			return video[i].Height < video[j].Height
		}
		return video[i].Bitrate < video[j].Bitrate
	})

	audio, ok := pickAudio(resolved.AudioTracks, media.Container(video[0].MimeType))
	if !ok {
		return plan{}, ErrNoEligibleAudio
	}
	return plan{video: video, audio: audio, family: family}, nil
}

// pickAudio prefers a track in the same container as the video, then the
// highest bitrate.
func pickAudio(tracks []media.AudioTrack, container string) (media.AudioTrack, bool) {
	var (
		best  media.AudioTrack
		found bool
	)
	for _, a := range tracks {
		if !a.Dash.Usable() {
			continue
		}
		if !found {
			best, found = a, true
			continue
		}
		aSame := media.Container(a.MimeType) == container
		bSame := media.Container(best.MimeType) == container
		if aSame != bSame {
			if aSame {
				best = a
			}
			continue
		}
		if a.Bitrate > best.Bitrate {
			best = a
		}
	}
	return best, found
}

func familyOf(t media.VideoTrack) string {
	if f := media.CodecFamily(t.Codec); f != "" {
		return f
	}
	if t.Dash != nil {
		return media.CodecFamily(t.Dash.Codec)
	}
	return ""
}

func maxHeight(tracks []media.VideoTrack) int {
	h := 0
	for _, t := range tracks {
		if t.Height > h {
			h = t.Height
		}
	}
	return h
}

type mpd struct {
	XMLName                   xml.Name `xml:"MPD"`
	Namespace                 string   `xml:"xmlns,attr"`
	Type                      string   `xml:"type,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	Period                    period   `xml:"Period"`
}

type period struct {
	ID             string          `xml:"id,attr"`
	Duration       string          `xml:"duration,attr"`
	AdaptationSets []adaptationSet `xml:"AdaptationSet"`
}

type adaptationSet struct {
	ID                  int              `xml:"id,attr"`
	ContentType         string           `xml:"contentType,attr"`
	MimeType            string           `xml:"mimeType,attr"`
	SubsegmentAlignment bool             `xml:"subsegmentAlignment,attr"`
	Representations     []representation `xml:"Representation"`
}

type representation struct {
	ID          string      `xml:"id,attr"`
	Bandwidth   int64       `xml:"bandwidth,attr"`
	Codecs      string      `xml:"codecs,attr,omitempty"`
	Width       int         `xml:"width,attr,omitempty"`
	Height      int         `xml:"height,attr,omitempty"`
	BaseURL     string      `xml:"BaseURL"`
	SegmentBase segmentBase `xml:"SegmentBase"`
}

type segmentBase struct {
	IndexRange     string         `xml:"indexRange,attr"`
	Initialization initialization `xml:"Initialization"`
}

type initialization struct {
	Range string `xml:"range,attr"`
}

func render(resolved *media.ResolvedStreams, p plan) (string, error) {
	dur := isoDuration(resolved.Duration.Seconds())

	videoSet := adaptationSet{
		ID:                  0,
		ContentType:         "video",
		MimeType:            mimeBase(p.video[0].MimeType),
		SubsegmentAlignment: true,
	}
	for i, t := range p.video {
		videoSet.Representations = append(videoSet.Representations, representation{
			ID:          fmt.Sprintf("v%d", i),
			Bandwidth:   bandwidth(t),
			Codecs:      t.Codec,
			Width:       t.Width,
			Height:      t.Height,
			BaseURL:     t.URL,
			SegmentBase: segmentBase{IndexRange: t.Dash.Index.String(), Initialization: initialization{Range: t.Dash.Init.String()}},
		})
	}

	audioBandwidth := p.audio.Bitrate
	if audioBandwidth <= 0 {
		audioBandwidth = 128_000
	}
	audioSet := adaptationSet{
		ID:                  1,
		ContentType:         "audio",
		MimeType:            mimeBase(p.audio.MimeType),
		SubsegmentAlignment: true,
		Representations: []representation{{
			ID:          "a0",
			Bandwidth:   audioBandwidth,
			Codecs:      p.audio.Codec,
			BaseURL:     p.audio.URL,
			SegmentBase: segmentBase{IndexRange: p.audio.Dash.Index.String(), Initialization: initialization{Range: p.audio.Dash.Init.String()}},
		}},
	}

	doc := mpd{
		Namespace:                 mpdNamespace,
		Type:                      "static",
		Profiles:                  mpdProfile,
		MinBufferTime:             "PT1.5S",
		MediaPresentationDuration: dur,
		Period: period{
			ID:             "0",
			Duration:       dur,
			AdaptationSets: []adaptationSet{videoSet, audioSet},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mpd: %w", err)
	}
	return xml.Header + string(out), nil
}

// bandwidth falls back to a pixel-count estimate when the bitrate is unknown.
func bandwidth(t media.VideoTrack) int64 {
	if t.Bitrate > 0 {
		return t.Bitrate
	}
	w := t.Width
	if w <= 0 {
		w = t.Height * 16 / 9
	}
	return int64(w) * int64(t.Height) * 2
}

func mimeBase(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(base)
}

func isoDuration(seconds float64) string {
	return fmt.Sprintf("PT%.3fS", seconds)
}
