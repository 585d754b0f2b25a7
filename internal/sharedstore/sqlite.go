package sharedstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"timersync/backend/internal/db"
)

// SQLiteBackend keeps the shared container in a WAL-mode database file so
// separate processes can read and write it concurrently.
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	database, err := db.OpenSQLite(path, "_journal_mode=WAL", "_txlock=immediate")
	if err != nil {
		return nil, err
	}
	backend := &SQLiteBackend{db: database}
	if err := backend.migrate(); err != nil {
		_ = database.Close()
		return nil, err
	}
	return backend, nil
}

func (b *SQLiteBackend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shared_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO store_meta (id, version) VALUES (1, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate shared store: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string][]byte, int64, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	values, err := loadValues(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	version, err := loadVersion(ctx, tx)
	if err != nil {
		return nil, 0, err
	}
	return values, version, nil
}

func (b *SQLiteBackend) Update(ctx context.Context, fn func(current map[string][]byte) (Changes, error)) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadValues(ctx, tx)
	if err != nil {
		return 0, err
	}
	changes, err := fn(current)
	if err != nil {
		return 0, err
	}

	for _, key := range changes.Delete {
		if _, ok := changes.Set[key]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM shared_values WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range changes.Set {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shared_values (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, string(value), now); err != nil {
			return 0, fmt.Errorf("set %s: %w", key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	version, err := loadVersion(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit shared store: %w", err)
	}
	return version, nil
}

func (b *SQLiteBackend) Version(ctx context.Context) (int64, error) {
	var version int64
	if err := b.db.QueryRowContext(ctx, `SELECT version FROM store_meta WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func loadValues(ctx context.Context, tx *sql.Tx) (map[string][]byte, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM shared_values`)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	values := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		values[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}

func loadVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM store_meta WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}
