package matcher

import "github.com/xrash/smetrics"

const (
	// MatchThreshold is the minimum score for a stream to become a mapping
	// candidate.
	MatchThreshold = 0.85

	epgIDBoost     = 0.15
	exactNameBoost = 0.10

	// Standard Jaro-Winkler parameters.
	jwBoostThreshold = 0.7
	jwPrefixSize     = 4
)

// Score rates how likely the stream named normStream delivers the guide
// channel named normChannel. Both names must already be normalized — callers
// normalize once per distinct name, not once per pair. epgIDMatch is true
// when both sides carry the same non-empty EPG id.
//
// Two empty names are a perfect match; one empty name cannot match at all.
// The result is always within [0.0, 1.0].
func Score(normChannel, normStream string, epgIDMatch bool) float64 {
	var score float64
	switch {
	case normChannel == "" && normStream == "":
		score = 1.0
	case normChannel == "" || normStream == "":
		score = 0.0
	default:
		score = smetrics.JaroWinkler(normChannel, normStream, jwBoostThreshold, jwPrefixSize)
		if normChannel == normStream {
			score += exactNameBoost
		}
	}
	if epgIDMatch {
		score += epgIDBoost
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
