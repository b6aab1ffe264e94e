package domain

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Ticket struct {
	ID              uuid.UUID         `json:"id"`
	BoardID         uuid.UUID         `json:"board_id"` // immutable after creation
	Column          string            `json:"current_column"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Fields          map[string]string `json:"fields,omitempty"`
	ColumnEnteredAt time.Time         `json:"column_entered_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewTicket creates a Ticket on board b. An empty column defaults to the
// board's first column.
func NewTicket(b *Board, title, description, column string, fields map[string]string) (*Ticket, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("ticket: title is required: %w", ErrValidation)
	}
	if column == "" {
		column = b.FirstColumn()
	}
	if err := b.ValidateColumn(column); err != nil {
		return nil, fmt.Errorf("ticket: %w", err)
	}

	now := time.Now().UTC()
	return &Ticket{
		ID:              uuid.New(),
		BoardID:         b.ID,
		Column:          column,
		Title:           title,
		Description:     description,
		Fields:          maps.Clone(fields),
		ColumnEnteredAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Clone returns a deep copy so callers never share the Fields map.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Fields = maps.Clone(t.Fields)
	return &c
}

// Dwell returns how long the ticket has sat in its current column.
func (t *Ticket) Dwell(now time.Time) time.Duration {
	return now.Sub(t.ColumnEnteredAt)
}

// TicketPatch is a field-only edit. Column, board and column_entered_at
// change only through ApplyMove.
type TicketPatch struct {
	Title       *string
	Description *string
	Fields      map[string]string
}

// Apply mutates t in place and bumps UpdatedAt.
func (p TicketPatch) Apply(t *Ticket, now time.Time) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return fmt.Errorf("ticket: title must not be empty: %w", ErrValidation)
		}
		t.Title = title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if len(p.Fields) > 0 {
		if t.Fields == nil {
			t.Fields = make(map[string]string, len(p.Fields))
		}
		for k, v := range p.Fields {
			if v == "" {
				delete(t.Fields, k)
				continue
			}
			t.Fields[k] = v
		}
	}
	t.UpdatedAt = now
	return nil
}

type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// ListByBoard returns only tickets whose board_id equals boardID.
	ListByBoard(ctx context.Context, boardID uuid.UUID) ([]*Ticket, error)
	// UpdateFields persists title, description and free-text fields. It never
	// touches board_id, current_column or column_entered_at.
	UpdateFields(ctx context.Context, t *Ticket) error
	// ApplyMove atomically sets current_column=toColumn and
	// column_entered_at=at and returns the column the ticket was in
	// immediately before the mutation.
	ApplyMove(ctx context.Context, id uuid.UUID, toColumn string, at time.Time) (string, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
