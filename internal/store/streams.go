package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtuner/xtuner/internal/model"
)

// ReplaceAccountStreams atomically swaps the stream catalog of one account
// for the result of a provider sync. Streams whose provider stream_id
// survives keep their row id, so mappings onto them (manual ones above all)
// stay intact across syncs; only vanished streams and their mappings go.
func (s *Store) ReplaceAccountStreams(ctx context.Context, accountID int64, streams []model.XtreamStream) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`CREATE TEMP TABLE IF NOT EXISTS sync_seen (stream_id INTEGER PRIMARY KEY)`); err != nil {
			return fmt.Errorf("temp table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_seen`); err != nil {
			return fmt.Errorf("reset temp table: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO xtream_streams (account_id, stream_id, name, stream_icon, qualities, category, epg_channel_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, stream_id) DO UPDATE SET
				name = excluded.name,
				stream_icon = excluded.stream_icon,
				qualities = excluded.qualities,
				category = excluded.category,
				epg_channel_id = excluded.epg_channel_id`)
		if err != nil {
			return fmt.Errorf("prepare stream upsert: %w", err)
		}
		defer stmt.Close()
		seen, err := tx.PrepareContext(ctx,
			`INSERT INTO sync_seen (stream_id) VALUES (?) ON CONFLICT DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare seen insert: %w", err)
		}
		defer seen.Close()
		for _, st := range streams {
			if _, err := stmt.ExecContext(ctx, accountID, st.StreamID, st.Name, st.StreamIcon,
				model.EncodeQualities(st.Qualities), st.Category, st.EPGChannelID); err != nil {
				return fmt.Errorf("upsert stream %d: %w", st.StreamID, err)
			}
			if _, err := seen.ExecContext(ctx, st.StreamID); err != nil {
				return fmt.Errorf("mark stream %d: %w", st.StreamID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM xtream_streams
			WHERE account_id = ?
			  AND stream_id NOT IN (SELECT stream_id FROM sync_seen)`, accountID); err != nil {
			return fmt.Errorf("prune streams for account %d: %w", accountID, err)
		}
		return nil
	})
}

// ActiveStreams returns every stream belonging to an active account,
// ordered by provider stream id for deterministic matching.
func (s *Store) ActiveStreams(ctx context.Context) ([]model.XtreamStream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.account_id, st.stream_id, st.name, st.stream_icon,
		       st.qualities, st.category, st.epg_channel_id
		FROM xtream_streams st
		JOIN accounts a ON a.id = st.account_id AND a.is_active = 1
		ORDER BY st.stream_id, st.account_id`)
	if err != nil {
		return nil, fmt.Errorf("active streams: %w", err)
	}
	defer rows.Close()
	var out []model.XtreamStream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountStreams reports the total stream rows (health endpoint).
func (s *Store) CountStreams(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM xtream_streams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count streams: %w", err)
	}
	return n, nil
}

func scanStream(r rowScanner) (model.XtreamStream, error) {
	var st model.XtreamStream
	var qualities string
	err := r.Scan(&st.ID, &st.AccountID, &st.StreamID, &st.Name, &st.StreamIcon,
		&qualities, &st.Category, &st.EPGChannelID)
	if err != nil {
		return st, err
	}
	st.Qualities = model.DecodeQualities(qualities)
	return st, nil
}
