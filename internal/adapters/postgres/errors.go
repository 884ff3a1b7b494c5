package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeLockNotAvailable    = "55P03"

	oneInRouteIndex = "trips_one_in_route_per_driver"
)

// mapErr translates driver errors into domain errors. Other errors pass
// through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeSerialization:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
	case codeUniqueViolation:
		if pgErr.ConstraintName == oneInRouteIndex {
			return domain.ErrDriverBusy
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.Detail)
	case codeForeignKeyViolation:
		return domain.Invalidf("referenced record does not exist (%s)", pgErr.ConstraintName)
	case codeCheckViolation:
		return domain.Invalidf("constraint %s failed", pgErr.ConstraintName)
	}
	return err
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
