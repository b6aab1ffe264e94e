package domain

import "context"

// Store is the authoritative state store accessor. The postgres and memory
// packages both satisfy it.
type Store interface {
	Boards() BoardRepository
	Tickets() TicketRepository
	Comments() CommentRepository
	History() MoveHistoryRepository
	Ping(ctx context.Context) error
	Close()
}
