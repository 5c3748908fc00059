package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMapPostgresError(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, got error)
	}{
		{"nil", nil, func(t *testing.T, got error) { assert.NoError(t, got) }},
		{"no rows", pgx.ErrNoRows, func(t *testing.T, got error) { assert.ErrorIs(t, got, models.ErrNotFound) }},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), func(t *testing.T, got error) { assert.ErrorIs(t, got, models.ErrNotFound) }},
		{
			"username taken",
			&pgconn.PgError{Code: "23505", ConstraintName: "accounts_username_key"},
			func(t *testing.T, got error) {
				var dup *models.DuplicateIdentityError
				require.True(t, errors.As(got, &dup))
				assert.Equal(t, models.FieldUsername, dup.Field)
			},
		},
		{
			"email taken",
			&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"},
			func(t *testing.T, got error) {
				var dup *models.DuplicateIdentityError
				require.True(t, errors.As(got, &dup))
				assert.Equal(t, models.FieldEmail, dup.Field)
			},
		},
		{
			"other unique",
			&pgconn.PgError{Code: "23505", ConstraintName: "sessions_token_hash_key"},
			func(t *testing.T, got error) { assert.ErrorIs(t, got, models.ErrConflict) },
		},
		{
			"foreign key",
			&pgconn.PgError{Code: "23503"},
			func(t *testing.T, got error) { assert.ErrorIs(t, got, models.ErrNotFound) },
		},
		{"passthrough", plain, func(t *testing.T, got error) { assert.Same(t, plain, got) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MapPostgresError(tt.err))
		})
	}
}

func openMigratedSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := OpenSQLite(":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db.DB, "sqlite", discardLogger()))
	return db
}

func TestMigrate_SQLiteIsIdempotent(t *testing.T) {
	db := openMigratedSQLite(t)

	require.NoError(t, Migrate(context.Background(), db.DB, "sqlite", discardLogger()))

	var tables int
	err := db.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'sessions')`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 2, tables)
}

func TestMigrate_UnknownDialect(t *testing.T) {
	db, err := OpenSQLite(":memory:", discardLogger())
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, Migrate(context.Background(), db.DB, "oracle", discardLogger()))
}

const insertAccount = `INSERT INTO accounts (id, username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, 'x', 0, 0)`

func TestMapSQLiteError(t *testing.T) {
	db := openMigratedSQLite(t)
	_, err := db.DB.Exec(insertAccount, "1", "alice", "alice@x.com")
	require.NoError(t, err)

	_, err = db.DB.Exec(insertAccount, "2", "alice", "other@x.com")
	var dup *models.DuplicateIdentityError
	require.True(t, errors.As(MapSQLiteError(err), &dup))
	assert.Equal(t, models.FieldUsername, dup.Field)

	_, err = db.DB.Exec(insertAccount, "3", "bob", "alice@x.com")
	require.True(t, errors.As(MapSQLiteError(err), &dup))
	assert.Equal(t, models.FieldEmail, dup.Field)

	_, err = db.DB.Exec(insertAccount, "1", "carol", "carol@x.com")
	assert.ErrorIs(t, MapSQLiteError(err), models.ErrConflict)

	var id string
	err = db.DB.QueryRow(`SELECT id FROM accounts WHERE username = 'nobody'`).Scan(&id)
	assert.ErrorIs(t, MapSQLiteError(err), models.ErrNotFound)

	assert.NoError(t, MapSQLiteError(nil))
}

func TestSQLiteWithTransaction_RollsBack(t *testing.T) {
	db := openMigratedSQLite(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(insertAccount, "1", "alice", "alice@x.com"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.DB.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(insertAccount, "1", "alice", "alice@x.com")
		return err
	}))
	require.NoError(t, db.DB.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteHealthCheck(t *testing.T) {
	db := openMigratedSQLite(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}
