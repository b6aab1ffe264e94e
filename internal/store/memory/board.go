package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

type BoardRepo struct {
	s *Store
}

func (r *BoardRepo) Create(_ context.Context, b *domain.Board) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.boards[b.ID]; exists {
		return fmt.Errorf("memory.BoardRepo.Create: board %s exists: %w", b.ID, domain.ErrValidation)
	}
	c := *b
	c.Columns = slices.Clone(b.Columns)
	r.s.boards[b.ID] = &c
	r.s.byBoard[b.ID] = make(map[uuid.UUID]struct{})
	return nil
}

func (r *BoardRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Board, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.boards[id]
	if !ok {
		return nil, fmt.Errorf("memory.BoardRepo.GetByID: %w", domain.ErrNotFound)
	}
	return cloneBoard(b), nil
}

func (r *BoardRepo) List(_ context.Context) ([]*domain.Board, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Board, 0, len(r.s.boards))
	for _, b := range r.s.boards {
		out = append(out, cloneBoard(b))
	}
	slices.SortFunc(out, func(a, b *domain.Board) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// Delete cascades comments → history → tickets → board. The cascade runs on
// a staged copy of the maps and is swapped in only when every stage passed,
// so a failure at any stage leaves the board and its tickets untouched.
func (r *BoardRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.boards[id]; !ok {
		return fmt.Errorf("memory.BoardRepo.Delete: %w", domain.ErrNotFound)
	}

	tx := r.s.begin()
	ticketIDs := slices.Collect(maps.Keys(tx.byBoard[id]))

	stages := []struct {
		step cascadeStep
		run  func() error
	}{
		{stepComments, func() error { return tx.deleteComments(ticketIDs) }},
		{stepHistory, func() error { return tx.deleteHistory(ticketIDs) }},
		{stepTickets, func() error { return tx.deleteTickets(id, ticketIDs) }},
		{stepBoard, func() error { return tx.deleteBoard(id) }},
	}
	for _, st := range stages {
		if r.s.beforeStep != nil {
			if err := r.s.beforeStep(st.step); err != nil {
				return fmt.Errorf("memory.BoardRepo.Delete: %s: %w", st.step, err)
			}
		}
		if err := st.run(); err != nil {
			return fmt.Errorf("memory.BoardRepo.Delete: %s: %w", st.step, err)
		}
	}

	r.s.commit(tx)
	return nil
}

func cloneBoard(b *domain.Board) *domain.Board {
	c := *b
	c.Columns = slices.Clone(b.Columns)
	return &c
}
