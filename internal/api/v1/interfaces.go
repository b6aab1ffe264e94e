package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/dwell"
	"github.com/gosuda/kanbansync/internal/move"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store and *memory.Store satisfy this interface.
type DataStore interface {
	Boards() domain.BoardRepository
	Tickets() domain.TicketRepository
	Comments() domain.CommentRepository
	History() domain.MoveHistoryRepository
}

// Mutator performs every write that subscribers must observe.
// *move.Coordinator satisfies this interface.
type Mutator interface {
	CreateBoard(ctx context.Context, name string, columns []string) (*domain.Board, error)
	DeleteBoard(ctx context.Context, boardID uuid.UUID) error
	CreateTicket(ctx context.Context, boardID uuid.UUID, in move.CreateTicketInput) (*domain.Ticket, error)
	UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) (*domain.Ticket, error)
	DeleteTicket(ctx context.Context, id uuid.UUID) error
	AddComment(ctx context.Context, ticketID uuid.UUID, author, body string) (*domain.Comment, error)
	Move(ctx context.Context, req move.Request) (domain.MoveResult, error)
}

// Classifier colors a board's tickets on read.
// *dwell.Engine satisfies this interface.
type Classifier interface {
	ClassifyBoard(ctx context.Context, boardID uuid.UUID) (dwell.Result, error)
}
