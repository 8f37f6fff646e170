package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtuner/xtuner/internal/model"
)

// InsertAccount adds a provider account and returns its id. Account CRUD
// proper lives outside this core; this is the ingestion/test surface.
func (s *Store) InsertAccount(ctx context.Context, a model.Account) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (server_url, username, password_enc, max_connections, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		a.ServerURL, a.Username, a.EncryptedPassword, a.MaxConnections, boolInt(a.IsActive))
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return res.LastInsertId()
}

// SetAccountActive flips the active flag.
func (s *Store) SetAccountActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set account %d active: %w", id, err)
	}
	return nil
}

// AccountByID returns the account or model.ErrNotFound.
func (s *Store) AccountByID(ctx context.Context, id int64) (model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, server_url, username, password_enc, max_connections, is_active
		FROM accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Account{}, model.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("account %d: %w", id, err)
	}
	return a, nil
}

// ActiveAccounts returns all active accounts ordered by id.
func (s *Store) ActiveAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_url, username, password_enc, max_connections, is_active
		FROM accounts WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active accounts: %w", err)
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TunerCount returns the max_connections of the first active account, or
// def when no account is active. Plex treats this as the tuner count.
func (s *Store) TunerCount(ctx context.Context, def int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT max_connections FROM accounts WHERE is_active = 1 ORDER BY id LIMIT 1`).Scan(&n)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("tuner count: %w", err)
	}
	if n <= 0 {
		return def, nil
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (model.Account, error) {
	var a model.Account
	var active int
	err := r.Scan(&a.ID, &a.ServerURL, &a.Username, &a.EncryptedPassword, &a.MaxConnections, &active)
	if err != nil {
		return a, err
	}
	a.IsActive = active != 0
	return a, nil
}
