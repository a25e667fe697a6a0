package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if hasPGCode(err, "23505") ||
		strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsTransientErr reports whether the error is a lock-wait timeout, deadlock,
// serialization conflict, or deadline. These conditions are worth retrying
// with backoff.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isDBLockTimeout(err) || isDeadlock(err) || isSerializationFailure(err)
}

func isDBLockTimeout(err error) bool {
	if hasPGCode(err, "55P03") {
		return true
	}
	// SQLite (error code 5)
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isDeadlock(err error) bool {
	if hasPGCode(err, "40P01") {
		return true
	}
	// MySQL (error code 1213)
	return strings.Contains(err.Error(), "Error 1213")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
