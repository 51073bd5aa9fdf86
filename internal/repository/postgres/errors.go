package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// IsPgNoRowsError reports whether err is pgx's no-rows sentinel, possibly
// wrapped.
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
