package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MoveDelta is the before/after column pair produced by a successful move.
type MoveDelta struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	BoardID    uuid.UUID `json:"board_id"`
	FromColumn string    `json:"from_column"`
	ToColumn   string    `json:"to_column"`
	MovedAt    time.Time `json:"moved_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// SelfMove reports whether the ticket stayed in the same column.
func (d MoveDelta) SelfMove() bool {
	return d.FromColumn == d.ToColumn
}

// MoveResult is returned to callers of the move coordinator.
type MoveResult struct {
	OK         bool       `json:"ok"`
	FromColumn string     `json:"from_column,omitempty"`
	ToColumn   string     `json:"to_column,omitempty"`
	Delta      *MoveDelta `json:"delta,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// MoveRecord is one row of the append-only move history.
type MoveRecord struct {
	ID         uuid.UUID `json:"id"`
	TicketID   uuid.UUID `json:"ticket_id"`
	BoardID    uuid.UUID `json:"board_id"`
	FromColumn string    `json:"from_column"`
	ToColumn   string    `json:"to_column"`
	RequestID  string    `json:"request_id,omitempty"`
	MovedAt    time.Time `json:"moved_at"`
}

// NewMoveRecord builds a history row from a delta.
func NewMoveRecord(d MoveDelta) *MoveRecord {
	return &MoveRecord{
		ID:         uuid.New(),
		TicketID:   d.TicketID,
		BoardID:    d.BoardID,
		FromColumn: d.FromColumn,
		ToColumn:   d.ToColumn,
		RequestID:  d.RequestID,
		MovedAt:    d.MovedAt,
	}
}

type MoveHistoryRepository interface {
	Append(ctx context.Context, rec *MoveRecord) error
	ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*MoveRecord, error)
}
