package memory

import (
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

type cascadeStep string

const (
	stepComments cascadeStep = "comments"
	stepHistory  cascadeStep = "history"
	stepTickets  cascadeStep = "tickets"
	stepBoard    cascadeStep = "board"
)

// cascadeTx is a staged copy of the store's maps. Ticket entries are shared
// with the live store; only map membership changes inside the tx.
type cascadeTx struct {
	boards   map[uuid.UUID]*domain.Board
	tickets  map[uuid.UUID]*ticketEntry
	byBoard  map[uuid.UUID]map[uuid.UUID]struct{}
	comments map[uuid.UUID][]*domain.Comment
	history  map[uuid.UUID][]*domain.MoveRecord
}

// begin must be called with s.mu held for writing.
func (s *Store) begin() *cascadeTx {
	byBoard := maps.Clone(s.byBoard)
	for id, set := range byBoard {
		byBoard[id] = maps.Clone(set)
	}
	return &cascadeTx{
		boards:   maps.Clone(s.boards),
		tickets:  maps.Clone(s.tickets),
		byBoard:  byBoard,
		comments: maps.Clone(s.comments),
		history:  maps.Clone(s.history),
	}
}

// commit must be called with s.mu held for writing.
func (s *Store) commit(tx *cascadeTx) {
	s.boards = tx.boards
	s.tickets = tx.tickets
	s.byBoard = tx.byBoard
	s.comments = tx.comments
	s.history = tx.history
}

func (tx *cascadeTx) deleteComments(ticketIDs []uuid.UUID) error {
	for _, id := range ticketIDs {
		delete(tx.comments, id)
	}
	return nil
}

func (tx *cascadeTx) deleteHistory(ticketIDs []uuid.UUID) error {
	for _, id := range ticketIDs {
		delete(tx.history, id)
	}
	return nil
}

// deleteTickets refuses to orphan comments or history rows.
func (tx *cascadeTx) deleteTickets(boardID uuid.UUID, ticketIDs []uuid.UUID) error {
	for _, id := range ticketIDs {
		if len(tx.comments[id]) > 0 {
			return fmt.Errorf("ticket %s still has comments: %w", id, domain.ErrIntegrity)
		}
		if len(tx.history[id]) > 0 {
			return fmt.Errorf("ticket %s still has move history: %w", id, domain.ErrIntegrity)
		}
	}
	for _, id := range ticketIDs {
		delete(tx.tickets, id)
		delete(tx.byBoard[boardID], id)
	}
	return nil
}

// deleteBoard refuses to orphan tickets.
func (tx *cascadeTx) deleteBoard(boardID uuid.UUID) error {
	if n := len(tx.byBoard[boardID]); n > 0 {
		return fmt.Errorf("board %s still has %d tickets: %w", boardID, n, domain.ErrIntegrity)
	}
	for id, e := range tx.tickets {
		if e.t.BoardID == boardID {
			return fmt.Errorf("ticket %s references board %s: %w", id, boardID, domain.ErrIntegrity)
		}
	}
	delete(tx.byBoard, boardID)
	delete(tx.boards, boardID)
	return nil
}
