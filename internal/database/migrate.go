package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// Migration dialects
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration for dialect ("postgres" or "sqlite")
func Migrate(ctx context.Context, db *sql.DB, dialect string, logger *slog.Logger) error {
	var gooseDialect goose.Dialect
	switch dialect {
	case DialectPostgres:
		gooseDialect = goose.DialectPostgres
	case DialectSQLite:
		gooseDialect = goose.DialectSQLite3
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	fsys, err := fs.Sub(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, r := range results {
		logger.Info("migration applied",
			slog.String("dialect", dialect),
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration))
	}
	return nil
}
