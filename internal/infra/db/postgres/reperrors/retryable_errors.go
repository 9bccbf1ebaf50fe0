package reperrors

import (
	"errors"

	"github.com/jackc/pgconn"
)

// IsRetryableError reports whether err (or anything it wraps) is a transient
// Postgres failure worth another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57P01", // admin_shutdown
			"08000", "08003", "08006": // connection exceptions
			return true
		}
		return false
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}
