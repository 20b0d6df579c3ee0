// Package sqlite implements the repository interfaces on SQLite through the
// pure-Go modernc.org/sqlite driver.
//
// CONCURRENCY MODEL:
// The pool is capped at one connection, so every transaction runs alone.
// Atomicity guarantees rely on that plus the schema constraints:
//   - UNIQUE(session_id, question_id) on answers rejects double submits
//   - a partial unique index allows one 'active' session per email_hash
//   - completion is a conditional UPDATE ... WHERE status = 'active'
//   - magic links are consumed with DELETE ... RETURNING
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// ":memory:" gives a private in-memory database, used by tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, stmt := range pragmas {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: applying %q: %w", stmt, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database answers queries.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Snapshot writes a consistent copy of the database to path with VACUUM INTO.
// path must not exist.
func (db *DB) Snapshot(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("sqlite: snapshot: %w", err)
	}
	return nil
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			email_hash       TEXT PRIMARY KEY,
			encrypted_email  TEXT NOT NULL DEFAULT '',
			completion_count INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating identities table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			email_hash    TEXT NOT NULL REFERENCES identities(email_hash),
			status        TEXT NOT NULL DEFAULT 'active'
			              CHECK (status IN ('active', 'completed', 'superseded')),
			is_shared     INTEGER NOT NULL DEFAULT 0,
			share_id      TEXT UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at  DATETIME,
			superseded_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_email_hash ON sessions(email_hash);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
			ON sessions(email_hash) WHERE status = 'active';
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS session_questions (
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			position    INTEGER NOT NULL,
			question_id INTEGER NOT NULL,
			PRIMARY KEY (session_id, position),
			UNIQUE (session_id, question_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating session_questions table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS answers (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(id),
			question_id INTEGER NOT NULL,
			answer_text TEXT NOT NULL,
			sequence    INTEGER NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (session_id, question_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating answers table: %w", err)
	}

	// Times are unix milliseconds so the sweep can compare numerically.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS magic_links (
			token_hash TEXT PRIMARY KEY,
			email_hash TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_magic_links_expires_at ON magic_links(expires_at);
		CREATE INDEX IF NOT EXISTS idx_magic_links_email_hash ON magic_links(email_hash);
	`)
	if err != nil {
		return fmt.Errorf("creating magic_links table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// rollback is deferred after BeginTx; it is a no-op once Commit succeeded.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
