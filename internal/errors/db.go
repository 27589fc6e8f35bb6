package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps a PostgreSQL driver error returned by internal/data/pgmetadata into one of
// the seven error kinds (spec.md §7). It handles:
//   - context.DeadlineExceeded / context.Canceled -> retryable CodeInternal (the metadata store
//     is momentarily unreachable, not a structural failure of the request).
//   - pgx.ErrNoRows -> CodeInternal (a load referenced an object that is not there; the core has
//     no NotFound kind of its own, this is an invariant violation from the caller's perspective).
//   - unique_violation -> CodeMetadataConflict, fatal to the job.
//   - foreign_key, check and not_null violations -> CodeValidationGap, not retryable.
//   - connection exceptions (SQLSTATE class "08") -> CodeInternal, retryable.
//   - every other PostgreSQL error -> CodeInternal, not retryable.
//
// If err is not a recognized database error, it is returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return WrapRetryable(err, CodeInternal, "metadata store request timed out", true)
	}
	if errors.Is(err, context.Canceled) {
		return WrapRetryable(err, CodeInternal, "metadata store request canceled", true)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(err, CodeInternal, "metadata object not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		field := pgErr.ColumnName
		if field == "" {
			field = pgErr.ConstraintName
		}
		return Wrapf(pgErr, CodeMetadataConflict, "object already exists (%s)", field)
	case pgerrcode.ForeignKeyViolation, pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return Wrap(pgErr, CodeValidationGap, "metadata write violated a database constraint")
	default:
		// Connection-level failures (e.g. ConnectionException class "08") surface here too;
		// treat them as retryable since they are transport noise, not a conflict.
		retryable := len(pgErr.Code) >= 2 && pgErr.Code[0:2] == "08"
		return WrapRetryable(pgErr, CodeInternal, "a database error occurred", retryable)
	}
}
