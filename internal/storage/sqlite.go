package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaKV = `
CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

const (
	upsertSQL = `INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`
	selectSQL = `SELECT value FROM kv WHERE key=?`
	deleteSQL = `DELETE FROM kv WHERE key=?`
)

// SQLite is a KV persisted to a local SQLite file. It survives process
// restarts, which the offline queue and device cache require.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens/creates the database file and ensures the schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite does not tolerate many concurrent writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaKV); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure kv schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(selectSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	if _, err := s.db.Exec(upsertSQL, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	if _, err := s.db.Exec(deleteSQL, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
