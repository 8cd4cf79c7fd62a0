package shared

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

// TranslateDBError maps postgres failures onto the API error taxonomy.
func TranslateDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return httpx.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return httpx.ErrConflict
		case "23503":
			return httpx.NewValidationError("", "referenced resource does not exist")
		}
	}
	return err
}
