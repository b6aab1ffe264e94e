package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound      = errors.New("domain: not found")
	ErrInvalidColumn = errors.New("domain: invalid column")
	ErrIntegrity     = errors.New("domain: integrity violation")
	ErrConnection    = errors.New("domain: connection unreachable")
	ErrStaleState    = errors.New("domain: stale state")
	ErrValidation    = errors.New("domain: validation failed")
)

// ColumnError reports a column that is not part of a board's column list.
type ColumnError struct {
	BoardID uuid.UUID
	Column  string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q is not on board %s", e.Column, e.BoardID)
}

func (e *ColumnError) Unwrap() error { return ErrInvalidColumn }
