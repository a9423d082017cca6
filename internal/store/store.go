// Package store owns the gateway's SQLite handle and schema migrations.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gravitational/trace"
)

// schema is applied in order at startup. Each statement must be safe to
// re-run against an already-migrated database (IF NOT EXISTS / additive
// ADD COLUMN only), mirroring the original init_db()'s create-all-on-boot
// behavior without requiring a separate migration runner.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		hostname TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 22,
		username TEXT NOT NULL,
		auth_type TEXT NOT NULL,
		encrypted_password TEXT,
		key_filename TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admin_credentials (
		username TEXT PRIMARY KEY,
		hashed_password TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		source_ip TEXT,
		detail TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_username ON audit_logs(username)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action)`,
}

// Open creates the data directory if needed and returns a migrated *sql.DB
// at dbPath.
func Open(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, trace.Wrap(err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// SQLite serializes writers internally; a single connection avoids
	// "database is locked" errors under concurrent access from this
	// process without needing a separate pool.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return trace.Wrap(err, "running migration: %s", stmt)
		}
	}
	return nil
}
