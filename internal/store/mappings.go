package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtuner/xtuner/internal/model"
)

// ManualMappings returns all user-override mappings grouped by channel,
// ordered by stream_priority. The matcher reads these so its recompute can
// slot automatic candidates around them; it never writes them back.
func (s *Store) ManualMappings(ctx context.Context) (map[string][]model.ChannelMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, stream_ref, confidence, is_manual, is_primary, stream_priority
		FROM channel_mappings
		WHERE is_manual = 1
		ORDER BY channel_id, stream_priority`)
	if err != nil {
		return nil, fmt.Errorf("manual mappings: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.ChannelMapping)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out[m.ChannelID] = append(out[m.ChannelID], m)
	}
	return out, rows.Err()
}

// SetManualMapping records a user override. The row survives every automatic
// re-match; only a manual delete removes it.
func (s *Store) SetManualMapping(ctx context.Context, m model.ChannelMapping) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if m.IsPrimary {
			// A new manual primary displaces any existing primary for the channel.
			if _, err := tx.ExecContext(ctx, `
				UPDATE channel_mappings SET is_primary = 0
				WHERE channel_id = ? AND is_primary = 1`, m.ChannelID); err != nil {
				return fmt.Errorf("demote primary for %q: %w", m.ChannelID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_mappings (channel_id, stream_ref, confidence, is_manual, is_primary, stream_priority)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(channel_id, stream_ref) DO UPDATE SET
				confidence = excluded.confidence,
				is_manual = 1,
				is_primary = excluded.is_primary,
				stream_priority = excluded.stream_priority`,
			m.ChannelID, m.StreamRef, m.Confidence, boolInt(m.IsPrimary), m.StreamPriority); err != nil {
			return fmt.Errorf("set manual mapping %q: %w", m.ChannelID, err)
		}
		return nil
	})
}

// ReplaceAutoMappings swaps the entire automatic mapping set in one
// transaction. Manual rows are untouched by construction: the delete filters
// on is_manual = 0 and every inserted row carries is_manual = 0. Either the
// whole batch commits or none of it does.
func (s *Store) ReplaceAutoMappings(ctx context.Context, mappings []model.ChannelMapping) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM channel_mappings WHERE is_manual = 0`); err != nil {
			return fmt.Errorf("clear auto mappings: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO channel_mappings (channel_id, stream_ref, confidence, is_manual, is_primary, stream_priority)
			VALUES (?, ?, ?, 0, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare mapping insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range mappings {
			if _, err := stmt.ExecContext(ctx, m.ChannelID, m.StreamRef, m.Confidence,
				boolInt(m.IsPrimary), m.StreamPriority); err != nil {
				return fmt.Errorf("insert mapping %q->%d: %w", m.ChannelID, m.StreamRef, err)
			}
		}
		return nil
	})
}

// MappingsForChannel returns all mappings for channelID ordered by priority.
func (s *Store) MappingsForChannel(ctx context.Context, channelID string) ([]model.ChannelMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, stream_ref, confidence, is_manual, is_primary, stream_priority
		FROM channel_mappings
		WHERE channel_id = ?
		ORDER BY stream_priority`, channelID)
	if err != nil {
		return nil, fmt.Errorf("mappings for %q: %w", channelID, err)
	}
	defer rows.Close()
	var out []model.ChannelMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MappedStream is one failover candidate: the mapping joined with its stream
// and the stream's owning account. Returned in StreamPriority order.
type MappedStream struct {
	Mapping model.ChannelMapping
	Stream  model.XtreamStream
	Account model.Account
}

// FailoverChain returns the ordered candidates for an enabled channel with a
// primary mapping. model.ErrNotFound when the channel is missing, disabled,
// or has no primary mapping.
func (s *Store) FailoverChain(ctx context.Context, channelID string) ([]MappedStream, error) {
	enabled, err := s.ChannelEnabled(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, model.ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.channel_id, m.stream_ref, m.confidence, m.is_manual, m.is_primary, m.stream_priority,
		       st.id, st.account_id, st.stream_id, st.name, st.stream_icon, st.qualities, st.category, st.epg_channel_id,
		       a.id, a.server_url, a.username, a.password_enc, a.max_connections, a.is_active
		FROM channel_mappings m
		JOIN xtream_streams st ON st.id = m.stream_ref
		JOIN accounts a ON a.id = st.account_id
		WHERE m.channel_id = ?
		ORDER BY m.stream_priority`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failover chain %q: %w", channelID, err)
	}
	defer rows.Close()
	var out []MappedStream
	hasPrimary := false
	for rows.Next() {
		var ms MappedStream
		var manual, primary, active int
		var qualities string
		if err := rows.Scan(
			&ms.Mapping.ChannelID, &ms.Mapping.StreamRef, &ms.Mapping.Confidence, &manual, &primary, &ms.Mapping.StreamPriority,
			&ms.Stream.ID, &ms.Stream.AccountID, &ms.Stream.StreamID, &ms.Stream.Name, &ms.Stream.StreamIcon, &qualities, &ms.Stream.Category, &ms.Stream.EPGChannelID,
			&ms.Account.ID, &ms.Account.ServerURL, &ms.Account.Username, &ms.Account.EncryptedPassword, &ms.Account.MaxConnections, &active,
		); err != nil {
			return nil, err
		}
		ms.Mapping.IsManual = manual != 0
		ms.Mapping.IsPrimary = primary != 0
		ms.Stream.Qualities = model.DecodeQualities(qualities)
		ms.Account.IsActive = active != 0
		if ms.Mapping.IsPrimary {
			hasPrimary = true
		}
		out = append(out, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !hasPrimary {
		return nil, model.ErrNotFound
	}
	return out, nil
}

func scanMapping(r rowScanner) (model.ChannelMapping, error) {
	var m model.ChannelMapping
	var manual, primary int
	err := r.Scan(&m.ChannelID, &m.StreamRef, &m.Confidence, &manual, &primary, &m.StreamPriority)
	if err != nil {
		return m, err
	}
	m.IsManual = manual != 0
	m.IsPrimary = primary != 0
	return m, nil
}
