package decision

import "strconv"

type RequestSummary struct {
	StreamID         string `json:"streamId"`
	AudioOnly        bool   `json:"audioOnly"`
	AdaptiveKind     string `json:"adaptiveKind"`
	Origin           string `json:"origin"`
	QualityCapHeight string `json:"qualityCapHeight"`
	SelectedHeight   int    `json:"selectedHeight"`
}

type ResultSummary struct {
	Outcome          string `json:"outcome"`
	QualityCapHeight string `json:"qualityCapHeight"`
	Reason           string `json:"reason"`
}

func (r Requested) Summary() RequestSummary {
	origin := string(r.Origin)
	if origin == "" {
		origin = string(OriginAuto)
	}

	selected := 0
	if r.SelectedVideoTrack != nil {
		selected = r.SelectedVideoTrack.Height
	}

	return RequestSummary{
		StreamID:         r.Key.StreamID,
		AudioOnly:        r.Key.AudioOnly,
		AdaptiveKind:     string(r.effectiveKind()),
		Origin:           origin,
		QualityCapHeight: capLabel(r.QualityCapHeight),
		SelectedHeight:   selected,
	}
}

func (res Result) Summary() ResultSummary {
	outcome := "miss"
	if res.Hit {
		outcome = "hit"
	}

	return ResultSummary{
		Outcome:          outcome,
		QualityCapHeight: capLabel(res.QualityCapHeight),
		Reason:           string(res.Reason),
	}
}

func capLabel(h int) string {
	if h <= 0 {
		return "none"
	}
	return strconv.Itoa(h)
}
