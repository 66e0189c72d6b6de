package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/internal/core/apperror"
)

// PostgreSQL error codes reported as conflicts.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// MapError converts PostgreSQL conflicts into CONCURRENT_MODIFICATION so that
// callers can retry the whole batch. Other errors are returned unchanged.
func MapError(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgUniqueViolation:
		return apperror.NewConcurrentModification(entityOf(pgErr), pgErr.ConstraintName).
			WithDetail("sqlstate", pgErr.Code).
			WithCause(err)
	}
	return err
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func entityOf(pgErr *pgconn.PgError) string {
	if pgErr.TableName != "" {
		return pgErr.TableName
	}
	return "row"
}
