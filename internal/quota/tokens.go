package quota

import "math"

// TokenEstimateMode selects the video-token estimation formula (spec.md §4.A).
type TokenEstimateMode string

// Recognized modes.
const (
	ModeDefault   TokenEstimateMode = "default"
	ModeOptimized TokenEstimateMode = "optimized"
)

// EstimateTextTokens approximates token count for text deterministically:
// ceil(len(text) / 3.5). The Segment-Analysis stage does not call it: both
// its pre-flight admission estimate and the token count it records after a
// successful call are tiktoken counts (see internal/adapter/ai/tokencount).
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 3.5))
}

// EstimateVideoTokens approximates token count for a video segment of the
// given duration, per spec.md §4.A's two documented formulae.
func EstimateVideoTokens(durationSec float64, mode TokenEstimateMode) int {
	if durationSec <= 0 {
		return 0
	}
	var raw float64
	switch mode {
	case ModeOptimized:
		raw = (durationSec*0.5*66 + durationSec*32) * 1.1
	default:
		raw = durationSec * 300 * 1.1
	}
	return int(math.Ceil(raw))
}
