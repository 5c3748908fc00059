package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteDB is a database/sql handle on a modernc SQLite file
type SQLiteDB struct {
	DB     *sql.DB
	logger *slog.Logger
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// OpenSQLite opens path and applies connection pragmas. ":memory:" gives a
// private in-memory database limited to one connection.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection serializes writes
	// and keeps an in-memory database shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if path == ":memory:" && strings.Contains(pragma, "journal_mode") {
			continue
		}
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Info("database connection established",
		slog.String("driver", "sqlite"),
		slog.String("path", path),
	)

	return &SQLiteDB{DB: db, logger: logger}, nil
}

func (db *SQLiteDB) Close() error {
	db.logger.Info("closing sqlite database")
	return db.DB.Close()
}

func (db *SQLiteDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTransaction mirrors DB.WithTransaction for database/sql
func (db *SQLiteDB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// MapSQLiteError translates modernc driver errors into model errors
func MapSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed: accounts.username"):
			return &models.DuplicateIdentityError{Field: models.FieldUsername}
		case strings.Contains(msg, "UNIQUE constraint failed: accounts.email"):
			return &models.DuplicateIdentityError{Field: models.FieldEmail}
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return models.ErrConflict
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return models.ErrNotFound
		case strings.Contains(msg, "NOT NULL constraint failed"):
			return models.ErrBadRequest
		}
	}

	return err
}
