package quality

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ManuGH/streamkeeper/internal/media"
)

func track(height int, bitrate int64, videoOnly bool) media.VideoTrack {
	kind := "muxed"
	if videoOnly {
		kind = "video"
	}
	return media.VideoTrack{
		URL:       "https://cdn.example/" + kind,
		MimeType:  "video/mp4",
		Codec:     "avc1.4d401f",
		Height:    height,
		Width:     height * 16 / 9,
		Bitrate:   bitrate,
		VideoOnly: videoOnly,
	}
}

func TestStepDown(t *testing.T) {
	t.Parallel()

	vo720hi := track(720, 2_500_000, true)
	vo720lo := track(720, 1_200_000, true)
	mux720 := track(720, 2_000_000, false)
	mux720lo := track(720, 900_000, false)
	mux480 := track(480, 700_000, false)
	vo480 := track(480, 1_000_000, true)
	vo360 := track(360, 400_000, true)

	tests := []struct {
		name     string
		current  media.VideoTrack
		tracks   []media.VideoTrack
		want     media.VideoTrack
		wantRule Rule
	}{
		{
			name:     "video-only prefers muxed at same height over lower bitrate video-only",
			current:  vo720hi,
			tracks:   []media.VideoTrack{vo720hi, vo720lo, mux720, mux480},
			want:     mux720,
			wantRule: RuleMuxSameHeight,
		},
		{
			name:     "video-only same-height muxed ignores bitrate",
			current:  vo720lo,
			tracks:   []media.VideoTrack{vo720lo, mux720},
			want:     mux720,
			wantRule: RuleMuxSameHeight,
		},
		{
			name:     "muxed steps to lower bitrate at same height",
			current:  mux720,
			tracks:   []media.VideoTrack{mux720, mux720lo, mux480},
			want:     mux720lo,
			wantRule: RuleLowerBitrate,
		},
		{
			name:     "muxed without lower same-height bitrate drops height",
			current:  mux720lo,
			tracks:   []media.VideoTrack{mux720, mux720lo, mux480, vo480},
			want:     mux480,
			wantRule: RuleLowerHeight,
		},
		{
			name:     "lower height prefers muxed over higher bitrate video-only",
			current:  vo720hi,
			tracks:   []media.VideoTrack{vo720hi, vo480, mux480},
			want:     mux480,
			wantRule: RuleLowerHeight,
		},
		{
			name:     "lower height picks highest available below",
			current:  mux720,
			tracks:   []media.VideoTrack{vo360, vo480, mux720},
			want:     vo480,
			wantRule: RuleLowerHeight,
		},
		{
			name:     "nothing lower",
			current:  vo360,
			tracks:   []media.VideoTrack{vo360, mux480, mux720},
			wantRule: RuleNone,
		},
		{
			name:     "empty list",
			current:  mux480,
			wantRule: RuleNone,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, rule := Explain(tc.current, tc.tracks)
			if rule != tc.wantRule {
				t.Fatalf("rule: got %q want %q", rule, tc.wantRule)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("track mismatch (-want +got):\n%s", diff)
			}

			_, ok := StepDown(tc.current, tc.tracks)
			if ok != (tc.wantRule != RuleNone) {
				t.Fatalf("StepDown ok=%v, want %v", ok, tc.wantRule != RuleNone)
			}
		})
	}
}
