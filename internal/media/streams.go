// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the value types exchanged between the extraction
// collaborator, the playback collaborator and the resilience components.
package media

import (
	"strconv"
	"strings"
	"time"
)

// ByteRange is an inclusive byte range inside a progressive file.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Valid reports whether the range is well formed.
func (r ByteRange) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

// String renders the range in DASH "start-end" form.
func (r ByteRange) String() string {
	return strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10)
}

// DashMetadata carries the segment offsets needed to expose a progressive
// track as a DASH representation.
type DashMetadata struct {
	Init           ByteRange     `json:"init"`
	Index          ByteRange     `json:"index"`
	ApproxDuration time.Duration `json:"approxDuration,omitempty"`
	Codec          string        `json:"codec,omitempty"`
}

// Usable reports whether both segment ranges are present.
func (m *DashMetadata) Usable() bool {
	return m != nil && m.Init.Valid() && m.Index.Valid()
}

// VideoTrack is one video rendition returned by the extractor.
type VideoTrack struct {
	URL       string        `json:"url"`
	MimeType  string        `json:"mimeType"`
	Codec     string        `json:"codec"`
	Bitrate   int64         `json:"bitrate,omitempty"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height"`
	VideoOnly bool          `json:"videoOnly"`
	Dash      *DashMetadata `json:"dash,omitempty"`
}

// Muxed reports whether the track carries audio and video together.
func (t VideoTrack) Muxed() bool { return !t.VideoOnly }

// AudioTrack is one audio rendition returned by the extractor.
type AudioTrack struct {
	URL      string        `json:"url"`
	MimeType string        `json:"mimeType"`
	Codec    string        `json:"codec"`
	Bitrate  int64         `json:"bitrate,omitempty"`
	Dash     *DashMetadata `json:"dash,omitempty"`
}

// ResolvedStreams is the immutable result of one extraction.
type ResolvedStreams struct {
	StreamID    string        `json:"streamId"`
	VideoTracks []VideoTrack  `json:"videoTracks"`
	AudioTracks []AudioTrack  `json:"audioTracks"`
	Duration    time.Duration `json:"duration,omitempty"`
	ResolvedAt  time.Time     `json:"resolvedAt"`
}

// HasDuration reports whether the extractor knew the media duration.
func (r *ResolvedStreams) HasDuration() bool {
	return r != nil && r.Duration > 0
}

// Container returns the container family of a MIME type ("mp4", "webm", ...).
func Container(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if i := strings.IndexByte(mt, '/'); i >= 0 {
		mt = mt[i+1:]
	}
	return strings.TrimSpace(mt)
}

// CodecFamily maps an RFC 6381 codec string to a coarse family name.
func CodecFamily(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	switch {
	case c == "":
		return ""
	case strings.HasPrefix(c, "avc1"), strings.HasPrefix(c, "avc3"), c == "h264":
		return "avc"
	case strings.HasPrefix(c, "vp09"), strings.HasPrefix(c, "vp9"):
		return "vp9"
	case strings.HasPrefix(c, "av01"), c == "av1":
		return "av1"
	case strings.HasPrefix(c, "hev1"), strings.HasPrefix(c, "hvc1"), c == "hevc", c == "h265":
		return "hevc"
	case strings.HasPrefix(c, "mp4a"), c == "aac":
		return "aac"
	case c == "opus":
		return "opus"
	}
	if i := strings.IndexByte(c, '.'); i > 0 {
		return c[:i]
	}
	return c
}
