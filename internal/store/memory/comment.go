package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

type CommentRepo struct {
	s *Store
}

func (r *CommentRepo) Create(_ context.Context, c *domain.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tickets[c.TicketID]; !ok {
		return fmt.Errorf("memory.CommentRepo.Create: ticket: %w", domain.ErrNotFound)
	}
	cc := *c
	r.s.comments[c.TicketID] = append(r.s.comments[c.TicketID], &cc)
	return nil
}

func (r *CommentRepo) ListByTicket(_ context.Context, ticketID uuid.UUID) ([]*domain.Comment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.tickets[ticketID]; !ok {
		return nil, fmt.Errorf("memory.CommentRepo.ListByTicket: %w", domain.ErrNotFound)
	}
	out := make([]*domain.Comment, 0, len(r.s.comments[ticketID]))
	for _, c := range r.s.comments[ticketID] {
		cc := *c
		out = append(out, &cc)
	}
	slices.SortStableFunc(out, func(a, b *domain.Comment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

type HistoryRepo struct {
	s *Store
}

func (r *HistoryRepo) Append(_ context.Context, rec *domain.MoveRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tickets[rec.TicketID]; !ok {
		return fmt.Errorf("memory.HistoryRepo.Append: ticket: %w", domain.ErrNotFound)
	}
	rc := *rec
	r.s.history[rec.TicketID] = append(r.s.history[rec.TicketID], &rc)
	return nil
}

// ListByTicket returns newest first, at most limit rows (0 = unlimited).
func (r *HistoryRepo) ListByTicket(_ context.Context, ticketID uuid.UUID, limit int) ([]*domain.MoveRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows := r.s.history[ticketID]
	out := make([]*domain.MoveRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		rc := *rows[i]
		out = append(out, &rc)
	}
	return out, nil
}
