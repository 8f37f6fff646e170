package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtuner/xtuner/internal/model"
)

// UpsertChannel inserts or refreshes one XMLTV channel and guarantees a
// settings row exists (disabled by default so re-ingestion never exposes a
// channel the operator has not opted in).
func (s *Store) UpsertChannel(ctx context.Context, ch model.XMLTVChannel) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO xmltv_channels (channel_id, display_name, icon, is_synthetic)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(channel_id) DO UPDATE SET
				display_name = excluded.display_name,
				icon = excluded.icon,
				is_synthetic = excluded.is_synthetic`,
			ch.ChannelID, ch.DisplayName, ch.Icon, boolInt(ch.IsSynthetic)); err != nil {
			return fmt.Errorf("upsert channel %q: %w", ch.ChannelID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_settings (channel_id, is_enabled, display_order)
			VALUES (?, 0, NULL)
			ON CONFLICT(channel_id) DO NOTHING`, ch.ChannelID); err != nil {
			return fmt.Errorf("seed setting %q: %w", ch.ChannelID, err)
		}
		return nil
	})
}

// SetChannelSetting replaces the exposure policy for one channel.
func (s *Store) SetChannelSetting(ctx context.Context, cs model.ChannelSetting) error {
	var order sql.NullInt64
	if cs.DisplayOrder != nil {
		order = sql.NullInt64{Int64: int64(*cs.DisplayOrder), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_settings (channel_id, is_enabled, display_order)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			display_order = excluded.display_order`,
		cs.ChannelID, boolInt(cs.IsEnabled), order)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", cs.ChannelID, err)
	}
	return nil
}

// Channels returns all XMLTV channels ordered by id. Used by the matcher.
func (s *Store) Channels(ctx context.Context) ([]model.XMLTVChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, display_name, icon, is_synthetic
		FROM xmltv_channels ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []model.XMLTVChannel
	for rows.Next() {
		var ch model.XMLTVChannel
		var synth int
		if err := rows.Scan(&ch.ChannelID, &ch.DisplayName, &ch.Icon, &synth); err != nil {
			return nil, err
		}
		ch.IsSynthetic = synth != 0
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ChannelEnabled reports whether channelID exists and is enabled.
func (s *Store) ChannelEnabled(ctx context.Context, channelID string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT cs.is_enabled
		FROM xmltv_channels c
		JOIN channel_settings cs ON cs.channel_id = c.channel_id
		WHERE c.channel_id = ?`, channelID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("channel enabled %q: %w", channelID, err)
	}
	return enabled != 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
