package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// IsTransient reports whether err is a PostgreSQL error worth retrying:
// connection failures, serialization failures, deadlocks and resource limits.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCode(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientCode(string(pqErr.Code))
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func transientCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case strings.HasPrefix(code, "53"): // insufficient resources
		return true
	case strings.HasPrefix(code, "57P"): // operator intervention, e.g. admin shutdown
		return true
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return true
	}
	return false
}
