package repositories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"qrhub/internal/common"
)

const pgUniqueViolation = "23505"

// mapError folds driver errors into the common sentinels so callers never
// look at gorm or driver types.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", common.ErrNotFound, op)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", common.ErrDuplicate, op)
	default:
		return fmt.Errorf("%w: %s: %w", common.ErrStorage, op, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
