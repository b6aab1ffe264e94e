package domain

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Board is the isolation unit: an ordered, immutable list of columns and the
// tickets whose BoardID equals its ID.
type Board struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBoard creates a Board with validated name and columns.
func NewBoard(name string, columns []string) (*Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("board: name is required: %w", ErrValidation)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("board: at least one column is required: %w", ErrValidation)
	}

	seen := make(map[string]struct{}, len(columns))
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("board: column names must not be empty: %w", ErrValidation)
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("board: duplicate column %q: %w", c, ErrValidation)
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}

	return &Board{
		ID:        uuid.New(),
		Name:      name,
		Columns:   cols,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// HasColumn reports whether name is one of the board's columns.
func (b *Board) HasColumn(name string) bool {
	return slices.Contains(b.Columns, name)
}

// ValidateColumn returns a *ColumnError when name is not on the board.
func (b *Board) ValidateColumn(name string) error {
	if !b.HasColumn(name) {
		return &ColumnError{BoardID: b.ID, Column: name}
	}
	return nil
}

// FirstColumn returns the column new tickets land in.
func (b *Board) FirstColumn() string {
	if len(b.Columns) == 0 {
		return ""
	}
	return b.Columns[0]
}

// IsBoundaryColumn reports whether name is the first (not started) or last
// (completed) column. Boundary columns carry no dwell signal.
func (b *Board) IsBoundaryColumn(name string) bool {
	n := len(b.Columns)
	if n == 0 {
		return false
	}
	return name == b.Columns[0] || name == b.Columns[n-1]
}

type BoardRepository interface {
	Create(ctx context.Context, b *Board) error
	GetByID(ctx context.Context, id uuid.UUID) (*Board, error)
	List(ctx context.Context) ([]*Board, error)
	// Delete removes the board and cascades to its comments, move history and
	// tickets inside one transaction. Nothing is removed on failure.
	Delete(ctx context.Context, id uuid.UUID) error
}
