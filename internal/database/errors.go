package database

import (
	"database/sql/driver"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrLinkExists is returned when an attempt is made to create
	// a link with an identifier that already exists.
	ErrLinkExists = errors.New("link exists")
	// ErrLinkNotFound is returned when an attempt is made to retrieve
	// a link using an identifier that doesn't exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrStoreUnavailable is returned when the authoritative store could not
	// be reached after the transport-level retries were exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// connExceptionClass is the PostgreSQL error class for connection exceptions.
const connExceptionClass = "08"

// IsTransient reports whether err is a transport-level failure worth retrying.
// Domain errors and constraint violations are never transient.
func IsTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.SQLState()) >= 2 && pgErr.SQLState()[:2] == connExceptionClass
	}

	return false
}
