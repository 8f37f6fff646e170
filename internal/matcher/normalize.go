// Package matcher reconciles the XMLTV channel catalog with the Xtream
// stream catalog: it fuzzy-matches names, ranks candidates, and produces the
// primary/failover mapping set the lineup service and stream gateway consume.
package matcher

import (
	"regexp"
	"strings"
)

var (
	// Quality/resolution decorations providers append to channel names.
	// Word-bounded so "ESPN HD" drops the suffix but "espn4k" stays intact.
	qualityTokenRE = regexp.MustCompile(`(?i)\b(?:hd|sd|fhd|4k|uhd|1080p|720p)\b`)
	nonAlnumRE     = regexp.MustCompile(`[^a-z0-9 ]+`)
	spacesRE       = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a channel name for comparison: lowercase, quality
// tokens removed, punctuation stripped, whitespace collapsed. Any input —
// empty, whitespace-only, or a bare quality token — normalizes
// deterministically; the worst case is the empty string.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = qualityTokenRE.ReplaceAllString(s, " ")
	s = nonAlnumRE.ReplaceAllString(s, "")
	s = spacesRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
