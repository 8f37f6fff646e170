// Package store persists the channel data model in SQLite and exposes the
// queries the matcher, lineup service, and stream gateway share. All writes
// that must be atomic (stream refresh, mapping recompute) run inside a single
// transaction so readers never observe a half-written catalog.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. Safe for concurrent use; database/sql pools
// connections and SQLite serializes writers.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS xmltv_channels (
	channel_id   TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	icon         TEXT NOT NULL DEFAULT '',
	is_synthetic INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS channel_settings (
	channel_id    TEXT PRIMARY KEY REFERENCES xmltv_channels(channel_id) ON DELETE CASCADE,
	is_enabled    INTEGER NOT NULL DEFAULT 0,
	display_order INTEGER
);
CREATE TABLE IF NOT EXISTS accounts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	server_url      TEXT NOT NULL,
	username        TEXT NOT NULL,
	password_enc    BLOB NOT NULL,
	max_connections INTEGER NOT NULL DEFAULT 1,
	is_active       INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS xtream_streams (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id     INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	stream_id      INTEGER NOT NULL,
	name           TEXT NOT NULL,
	stream_icon    TEXT NOT NULL DEFAULT '',
	qualities      TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	epg_channel_id TEXT NOT NULL DEFAULT '',
	UNIQUE (account_id, stream_id)
);
CREATE TABLE IF NOT EXISTS channel_mappings (
	channel_id      TEXT NOT NULL REFERENCES xmltv_channels(channel_id) ON DELETE CASCADE,
	stream_ref      INTEGER NOT NULL REFERENCES xtream_streams(id) ON DELETE CASCADE,
	confidence      REAL NOT NULL,
	is_manual       INTEGER NOT NULL DEFAULT 0,
	is_primary      INTEGER NOT NULL DEFAULT 0,
	stream_priority INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id, stream_ref)
);
CREATE INDEX IF NOT EXISTS idx_mappings_channel ON channel_mappings(channel_id, stream_priority);
CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

// Open opens (creating if necessary) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %q: %w", path, err)
	}
	// SQLite allows one writer; more sql.DB conns just produce SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GetKV returns the value stored under k, or "" when absent.
func (s *Store) GetKV(ctx context.Context, k string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, k).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kv get %q: %w", k, err)
	}
	return v, nil
}

// PutKV upserts k=v.
func (s *Store) PutKV(ctx context.Context, k, v string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, k, v)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", k, err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
