package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migration mirrors the teacher's backend/sqlite versioned-migration table
// (one row per applied version in schema_version), collapsed here to the
// single migration the key/value schema needs.
type migration struct {
	Version int
	Name    string
	Up      func(*sql.DB) error
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_kv",
		Up: func(db *sql.DB) error {
			_, err := db.Exec(`
				CREATE TABLE IF NOT EXISTS kv (
					key TEXT PRIMARY KEY,
					value BLOB NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_kv_key ON kv(key);
			`)
			return err
		},
	},
}

// SQLite is the default Store substrate: a single kv table in a
// modernc.org/sqlite database, following the teacher's WAL/busy_timeout
// pragma setup and versioned-migration approach (backend/sqlite/sqlite.go).
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the kv database at path, applying pending migrations.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func initSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := mig.Up(db); err != nil {
			return fmt.Errorf("store: migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version, name) VALUES (?, ?)`, mig.Version, mig.Name); err != nil {
			return fmt.Errorf("store: record migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

func (s *SQLite) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Put(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) List(prefix, cursor string, limit int) (map[string][]byte, string, error) {
	if limit <= 0 {
		limit = 256
	}

	rows, err := s.db.Query(`
		SELECT key, value FROM kv
		WHERE key LIKE ? || '%' AND key > ?
		ORDER BY key
		LIMIT ?
	`, prefix, cursor, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("store: list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	var keys []string
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, "", err
		}
		keys = append(keys, k)
		out[k] = v
	}

	next := ""
	if len(keys) > limit {
		last := keys[limit-1]
		delete(out, keys[limit])
		next = last
	}
	return out, next, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
var _ Store = (*Memory)(nil)
