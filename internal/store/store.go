// Package store persists the connection registry, the proxy's SP-to-IdP
// links and the single-use relay-state correlation rows on SQLite.
// Connections are written at provisioning time and read-only afterwards;
// relay_state is the only contended table.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store wraps the SQLite handle shared by the registry and the
// relay-state operations.
type Store struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

// Open opens (or creates) the database at path and runs migrations. Use
// ":memory:" for an in-process database, as the test SP/IdP and the
// example proxy do.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; one pooled connection also keeps an
	// in-memory database alive for the process lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:       db,
		validate: validator.New(),
		now:      time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sp_connection (
			id TEXT PRIMARY KEY,
			idp_entity_id TEXT NOT NULL,
			idp_sso_url TEXT NOT NULL,
			private_key TEXT NOT NULL,
			private_key_password TEXT NOT NULL DEFAULT '',
			signing_certificate TEXT NOT NULL,
			sp_entity_id TEXT NOT NULL UNIQUE,
			sp_acs_url TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sp_connection_entity ON sp_connection(sp_entity_id)`,

		`CREATE TABLE IF NOT EXISTS idp_connection (
			id TEXT PRIMARY KEY,
			sp_entity_id TEXT NOT NULL,
			sp_acs_url TEXT NOT NULL,
			sp_allow_idp_initiated INTEGER NOT NULL DEFAULT 0,
			idp_entity_id TEXT NOT NULL UNIQUE,
			idp_sso_url TEXT NOT NULL,
			signing_certificate TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idp_connection_entity ON idp_connection(idp_entity_id)`,

		`CREATE TABLE IF NOT EXISTS sp_to_idp_link (
			sp_entity_id TEXT NOT NULL UNIQUE,
			idp_entity_id TEXT NOT NULL UNIQUE,
			PRIMARY KEY (sp_entity_id, idp_entity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS relay_state (
			relay_state TEXT PRIMARY KEY,
			sp_entity_id TEXT NOT NULL,
			sp_request_id TEXT NOT NULL DEFAULT '',
			proxy_request_id TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_state_timestamp ON relay_state(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
