package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

type TicketRepo struct {
	s *Store
}

func (r *TicketRepo) Create(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.boards[t.BoardID]
	if !ok {
		return fmt.Errorf("memory.TicketRepo.Create: board: %w", domain.ErrNotFound)
	}
	if err := b.ValidateColumn(t.Column); err != nil {
		return fmt.Errorf("memory.TicketRepo.Create: %w", err)
	}
	if _, exists := r.s.tickets[t.ID]; exists {
		return fmt.Errorf("memory.TicketRepo.Create: ticket %s exists: %w", t.ID, domain.ErrValidation)
	}

	r.s.tickets[t.ID] = &ticketEntry{t: t.Clone()}
	r.s.byBoard[t.BoardID][t.ID] = struct{}{}
	return nil
}

func (r *TicketRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("memory.TicketRepo.GetByID: %w", domain.ErrNotFound)
	}
	return e.load(), nil
}

// ListByBoard walks only the board's own index; tickets of other boards are
// never visited.
func (r *TicketRepo) ListByBoard(_ context.Context, boardID uuid.UUID) ([]*domain.Ticket, error) {
	if boardID == uuid.Nil {
		return nil, fmt.Errorf("memory.TicketRepo.ListByBoard: nil board id: %w", domain.ErrNotFound)
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids, ok := r.s.byBoard[boardID]
	if !ok {
		return nil, fmt.Errorf("memory.TicketRepo.ListByBoard: %w", domain.ErrNotFound)
	}

	out := make([]*domain.Ticket, 0, len(ids))
	for id := range ids {
		t := r.s.tickets[id].load()
		if t.BoardID != boardID {
			return nil, fmt.Errorf("memory.TicketRepo.ListByBoard: ticket %s indexed under wrong board: %w", id, domain.ErrIntegrity)
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *domain.Ticket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (r *TicketRepo) UpdateFields(_ context.Context, t *domain.Ticket) error {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.tickets[t.ID]
	if !ok {
		return fmt.Errorf("memory.TicketRepo.UpdateFields: %w", domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.t.BoardID != t.BoardID {
		return fmt.Errorf("memory.TicketRepo.UpdateFields: board_id is immutable: %w", domain.ErrIntegrity)
	}
	next := e.t.Clone()
	next.Title = t.Title
	next.Description = t.Description
	next.Fields = maps.Clone(t.Fields)
	next.UpdatedAt = t.UpdatedAt
	e.t = next
	return nil
}

func (r *TicketRepo) ApplyMove(_ context.Context, id uuid.UUID, toColumn string, at time.Time) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.tickets[id]
	if !ok {
		return "", fmt.Errorf("memory.TicketRepo.ApplyMove: %w", domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := r.s.boards[e.t.BoardID]
	if !ok {
		return "", fmt.Errorf("memory.TicketRepo.ApplyMove: owning board missing: %w", domain.ErrIntegrity)
	}
	if err := b.ValidateColumn(toColumn); err != nil {
		return "", fmt.Errorf("memory.TicketRepo.ApplyMove: %w", err)
	}

	from := e.t.Column
	next := e.t.Clone()
	next.Column = toColumn
	next.ColumnEnteredAt = at
	next.UpdatedAt = at
	e.t = next
	return from, nil
}

func (r *TicketRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.tickets[id]
	if !ok {
		return fmt.Errorf("memory.TicketRepo.Delete: %w", domain.ErrNotFound)
	}

	delete(r.s.comments, id)
	delete(r.s.history, id)
	delete(r.s.byBoard[e.t.BoardID], id)
	delete(r.s.tickets, id)
	return nil
}
