package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	auditledger "github.com/auditledger/core"
)

// wrapQueryErr maps pgx.ErrNoRows to auditledger.ErrNotFound so callers can
// use errors.Is regardless of which collaborator raised it.
func wrapQueryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("storage: %s: %w", op, auditledger.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: %s: %w", op, auditledger.ErrConflict)
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
