// Package model holds the shared data model: XMLTV guide channels, Xtream
// provider streams and accounts, and the mappings that link the two catalogs.
package model

// XMLTVChannel is a guide-data channel entity identified by an EPG id,
// independent of any video source. Created by XMLTV ingestion; immutable
// between re-ingestions.
type XMLTVChannel struct {
	ChannelID   string // EPG id, e.g. "espn.us"
	DisplayName string
	Icon        string // logo URL; empty when the guide has none
	IsSynthetic bool   // manufactured from an unmatched Xtream stream
}

// ChannelSetting is the per-channel exposure policy. Only enabled channels
// are ever visible in the lineup, playlist, or stream endpoint.
type ChannelSetting struct {
	ChannelID    string
	IsEnabled    bool
	DisplayOrder *int // nil = unordered; sorts after all explicit orders
}

// XtreamStream is one playable source exposed by a provider account.
// ID is our surrogate key; StreamID is the provider's identifier and is what
// appears in upstream URLs.
type XtreamStream struct {
	ID           int64
	AccountID    int64
	StreamID     int
	Name         string
	StreamIcon   string
	Qualities    []Quality // ordered, possibly empty
	Category     string
	EPGChannelID string // provider's guess at the EPG id; used for matching
}

// Account is one Xtream provider subscription. Password is stored encrypted
// and only decrypted at use sites via secrets.Box.
type Account struct {
	ID                int64
	ServerURL         string
	Username          string
	EncryptedPassword []byte
	MaxConnections    int
	IsActive          bool
}

// ChannelMapping links one XMLTV channel to one Xtream stream.
//
// Invariants maintained by the matcher and the store:
//   - at most one mapping per channel has IsPrimary set
//   - StreamPriority values for a channel form a contiguous 0..k-1 sequence
//   - Confidence is in [0.0, 1.0]
type ChannelMapping struct {
	ChannelID      string
	StreamRef      int64 // XtreamStream.ID
	Confidence     float64
	IsManual       bool // user override; never touched by re-matching
	IsPrimary      bool
	StreamPriority int // 0 = primary, 1.. = failover order
}
