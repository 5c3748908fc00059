package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Unique constraints on the accounts table
const (
	usernameConstraint = "accounts_username_key"
	emailConstraint    = "accounts_email_key"
)

// MapPostgresError translates driver errors into model errors.
// Unique violations on an identity column become a DuplicateIdentityError.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case usernameConstraint:
				return &models.DuplicateIdentityError{Field: models.FieldUsername}
			case emailConstraint:
				return &models.DuplicateIdentityError{Field: models.FieldEmail}
			}
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrNotFound
		case "23502": // not_null_violation
			return models.ErrBadRequest
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction. The transaction is rolled back
// when fn returns an error or panics, and committed otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
