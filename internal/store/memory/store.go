// Package memory is an in-process implementation of domain.Store. It backs
// single-instance deployments and the coordinator/hub tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

// ticketEntry guards one ticket. ApplyMove locks only the entry, so moves of
// different tickets never contend with each other.
type ticketEntry struct {
	mu sync.Mutex
	t  *domain.Ticket
}

func (e *ticketEntry) load() *domain.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone()
}

type Store struct {
	// mu guards the maps. Structural writes (create, delete, cascade) take
	// the write lock; reads and per-ticket mutations take the read lock.
	mu       sync.RWMutex
	boards   map[uuid.UUID]*domain.Board
	tickets  map[uuid.UUID]*ticketEntry
	byBoard  map[uuid.UUID]map[uuid.UUID]struct{}
	comments map[uuid.UUID][]*domain.Comment
	history  map[uuid.UUID][]*domain.MoveRecord

	// beforeStep runs ahead of every cascade stage when set.
	beforeStep func(step cascadeStep) error

	boardRepo   *BoardRepo
	ticketRepo  *TicketRepo
	commentRepo *CommentRepo
	historyRepo *HistoryRepo
}

func New() *Store {
	s := &Store{
		boards:   make(map[uuid.UUID]*domain.Board),
		tickets:  make(map[uuid.UUID]*ticketEntry),
		byBoard:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		comments: make(map[uuid.UUID][]*domain.Comment),
		history:  make(map[uuid.UUID][]*domain.MoveRecord),
	}
	s.boardRepo = &BoardRepo{s: s}
	s.ticketRepo = &TicketRepo{s: s}
	s.commentRepo = &CommentRepo{s: s}
	s.historyRepo = &HistoryRepo{s: s}
	return s
}

func (s *Store) Boards() domain.BoardRepository        { return s.boardRepo }
func (s *Store) Tickets() domain.TicketRepository      { return s.ticketRepo }
func (s *Store) Comments() domain.CommentRepository    { return s.commentRepo }
func (s *Store) History() domain.MoveHistoryRepository { return s.historyRepo }
func (s *Store) Ping(_ context.Context) error          { return nil }
func (s *Store) Close()                                {}
