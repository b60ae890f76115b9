// Package sqlite implements repository.UserRepository on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// cross-compiles without a C toolchain. The schema itself lives in the
// migrations package and is applied with goose when the store is opened.
//
// Uniqueness of email and username is enforced by UNIQUE columns; the
// resulting constraint violation is translated into the same conflict errors
// the service layer returns from its pre-check.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/infinite-studio/internal/repository/migrations"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, applies connection PRAGMAs, and runs
// migrations.
//
// dbPath examples:
//   - "data/studio.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows one writer at a time, and every ":memory:" connection is a
	// separate database. A single pooled connection keeps both facts harmless
	// and makes the PRAGMAs below apply to every query.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := migrations.Up(ctx, conn, migrations.SQLite); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}
