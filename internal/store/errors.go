package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnavailable marks a connection or transaction failure against the
	// backing store. Fatal for the run; committed chunks stay durable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConstraint marks a uniqueness violation other than the expected
	// idempotent-duplicate case, which ON CONFLICT absorbs and never
	// surfaces here.
	ErrConstraint = errors.New("unexpected constraint violation")
)

// classify wraps a driver error with the matching sentinel so callers can
// route on errors.Is without importing pgconn.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return fmt.Errorf("%s: %w: %v", op, ErrConstraint, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
