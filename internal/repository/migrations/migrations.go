// Package migrations embeds the schema for every supported credential store
// and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Dialect selects which migration set to apply.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Up applies all pending migrations for dialect against db.
//
// A goose.Provider is used instead of the package-level goose API so that
// two stores migrating in the same process never share global state.
func Up(ctx context.Context, db *sql.DB, dialect Dialect) ([]*goose.MigrationResult, error) {
	var gooseDialect database.Dialect
	switch dialect {
	case SQLite:
		gooseDialect = database.DialectSQLite3
	case Postgres:
		gooseDialect = database.DialectPostgres
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(files, string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migrations: opening %s set: %w", dialect, err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, sub)
	if err != nil {
		return nil, fmt.Errorf("migrations: creating provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: applying %s migrations: %w", dialect, err)
	}
	return results, nil
}
