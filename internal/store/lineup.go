package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/xtuner/xtuner/internal/model"
)

// LineupChannel is one entry of the effective lineup: an enabled XMLTV
// channel that has a primary mapping. GuideNumber is always populated —
// explicit display orders come through as-is, channels without an order get
// a synthesized number (see EffectiveLineup).
type LineupChannel struct {
	ChannelID   string
	DisplayName string
	GuideNumber string
	LogoURL     string // XMLTV icon, else primary stream icon, else ""
	Order       *int   // the raw display_order; nil when synthesized
}

// EffectiveLineup runs the single shared lineup query: enabled channels with
// a primary mapping, ordered by display_order ascending with NULL orders
// after all explicit ones, ties broken by display name. Both /lineup.json
// and the playlist are rendered from this one result so they cannot drift.
//
// Channels with a NULL order receive sequential guide numbers starting at
// max(explicit order)+1, which cannot collide with any explicit number.
func (s *Store) EffectiveLineup(ctx context.Context) ([]LineupChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.channel_id, c.display_name, c.icon, st.stream_icon, cs.display_order
		FROM xmltv_channels c
		JOIN channel_settings cs ON cs.channel_id = c.channel_id AND cs.is_enabled = 1
		JOIN channel_mappings m ON m.channel_id = c.channel_id AND m.is_primary = 1
		JOIN xtream_streams st ON st.id = m.stream_ref
		ORDER BY (cs.display_order IS NULL), cs.display_order, c.display_name`)
	if err != nil {
		return nil, fmt.Errorf("effective lineup: %w", err)
	}
	defer rows.Close()

	out := []LineupChannel{}
	maxOrder := 0
	for rows.Next() {
		var lc LineupChannel
		var streamIcon string
		var order sql.NullInt64
		if err := rows.Scan(&lc.ChannelID, &lc.DisplayName, &lc.LogoURL, &streamIcon, &order); err != nil {
			return nil, err
		}
		if lc.LogoURL == "" {
			lc.LogoURL = streamIcon
		}
		if order.Valid {
			n := int(order.Int64)
			lc.Order = &n
			lc.GuideNumber = strconv.Itoa(n)
			if n > maxOrder {
				maxOrder = n
			}
		}
		out = append(out, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	next := maxOrder + 1
	for i := range out {
		if out[i].Order == nil {
			out[i].GuideNumber = strconv.Itoa(next)
			next++
		}
	}
	return out, nil
}

// EnabledChannelSettings returns settings for enabled channels; ingestion
// helpers and tests use it to inspect exposure state.
func (s *Store) EnabledChannelSettings(ctx context.Context) ([]model.ChannelSetting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, is_enabled, display_order
		FROM channel_settings WHERE is_enabled = 1 ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("enabled settings: %w", err)
	}
	defer rows.Close()
	var out []model.ChannelSetting
	for rows.Next() {
		var cs model.ChannelSetting
		var enabled int
		var order sql.NullInt64
		if err := rows.Scan(&cs.ChannelID, &enabled, &order); err != nil {
			return nil, err
		}
		cs.IsEnabled = enabled != 0
		if order.Valid {
			n := int(order.Int64)
			cs.DisplayOrder = &n
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
