package model

import "strings"

// Quality ranks a stream's resolution tier. Selection order for streaming is
// fixed: 4K > FHD > HD > SD. An empty quality set defaults to SD.
type Quality int

const (
	QualitySD Quality = iota
	QualityHD
	QualityFHD
	Quality4K
)

func (q Quality) String() string {
	switch q {
	case Quality4K:
		return "4K"
	case QualityFHD:
		return "FHD"
	case QualityHD:
		return "HD"
	default:
		return "SD"
	}
}

// ParseQuality maps a provider token to a Quality. Unknown tokens report ok=false.
func ParseQuality(s string) (Quality, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "4K", "UHD", "2160P":
		return Quality4K, true
	case "FHD", "1080P":
		return QualityFHD, true
	case "HD", "720P":
		return QualityHD, true
	case "SD", "480P", "576P":
		return QualitySD, true
	}
	return QualitySD, false
}

// BestQuality picks the first available quality in fixed priority order
// 4K > FHD > HD > SD. An empty or nil set yields SD.
func BestQuality(qs []Quality) Quality {
	best := QualitySD
	found := false
	for _, q := range qs {
		if !found || q > best {
			best = q
			found = true
		}
	}
	return best
}

// QualitiesFromName extracts quality tokens embedded in a provider stream
// name, e.g. "ESPN FHD" or "BBC One 4K". Order of appearance is preserved,
// duplicates dropped.
func QualitiesFromName(name string) []Quality {
	var out []Quality
	seen := map[Quality]bool{}
	for _, tok := range strings.Fields(name) {
		if q, ok := ParseQuality(tok); ok && !seen[q] {
			out = append(out, q)
			seen[q] = true
		}
	}
	return out
}

// EncodeQualities serializes a quality set for storage ("4K,HD"); DecodeQualities
// reverses it. Unknown tokens are dropped on decode.
func EncodeQualities(qs []Quality) string {
	if len(qs) == 0 {
		return ""
	}
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = q.String()
	}
	return strings.Join(parts, ",")
}

func DecodeQualities(s string) []Quality {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []Quality
	for _, tok := range strings.Split(s, ",") {
		if q, ok := ParseQuality(tok); ok {
			out = append(out, q)
		}
	}
	return out
}
