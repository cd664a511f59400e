// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodecFamily(t *testing.T) {
	tests := []struct {
		codec string
		want  string
	}{
		{"avc1.64001F", "avc"},
		{"AVC1.4d401e", "avc"},
		{"vp09.00.40.08", "vp9"},
		{"vp9", "vp9"},
		{"av01.0.08M.08", "av1"},
		{"hvc1.1.6.L93.B0", "hevc"},
		{"mp4a.40.2", "aac"},
		{"opus", "opus"},
		{"theora.1", "theora"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodecFamily(tt.codec), tt.codec)
	}
}

func TestContainer(t *testing.T) {
	assert.Equal(t, "mp4", Container(`video/mp4; codecs="avc1.64001F"`))
	assert.Equal(t, "webm", Container("audio/webm"))
	assert.Equal(t, "", Container(""))
}

func TestDashMetadataUsable(t *testing.T) {
	var nilMeta *DashMetadata
	assert.False(t, nilMeta.Usable())

	m := &DashMetadata{Init: ByteRange{0, 740}, Index: ByteRange{741, 1904}}
	assert.True(t, m.Usable())
	assert.Equal(t, "0-740", m.Init.String())

	m.Index = ByteRange{Start: 10, End: 5}
	assert.False(t, m.Usable())
}

func TestResolvedStreamsHasDuration(t *testing.T) {
	var r *ResolvedStreams
	assert.False(t, r.HasDuration())
	assert.False(t, (&ResolvedStreams{}).HasDuration())
}
