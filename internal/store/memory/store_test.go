package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/kanbansync/internal/domain"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedBoard(t *testing.T, s *Store, name string, columns ...string) *domain.Board {
	t.Helper()

	if len(columns) == 0 {
		columns = []string{"Not Started", "In Progress", "Done"}
	}
	b, err := domain.NewBoard(name, columns)
	require.NoError(t, err)
	require.NoError(t, s.Boards().Create(context.Background(), b))
	return b
}

func seedTicket(t *testing.T, s *Store, b *domain.Board, title string) *domain.Ticket {
	t.Helper()

	tk, err := domain.NewTicket(b, title, "", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Tickets().Create(context.Background(), tk))
	return tk
}

func seedComment(t *testing.T, s *Store, tk *domain.Ticket, body string) {
	t.Helper()

	c, err := domain.NewComment(tk.ID, "sam", body)
	require.NoError(t, err)
	require.NoError(t, s.Comments().Create(context.Background(), c))
}

// ---------------------------------------------------------------------------
// 1. Board isolation
// ---------------------------------------------------------------------------

func TestListByBoard_IsolationUnderConcurrentWrites(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b1 := seedBoard(t, s, "Sprint 1")
	b2 := seedBoard(t, s, "Sprint 2")

	const perBoard = 50
	var wg sync.WaitGroup
	for _, b := range []*domain.Board{b1, b2} {
		for i := range perBoard {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tk, err := domain.NewTicket(b, fmt.Sprintf("%s-%d", b.Name, i), "", "", nil)
				assert.NoError(t, err)
				assert.NoError(t, s.Tickets().Create(ctx, tk))
			}()
		}
	}

	// Reads interleaved with the writers must never cross boards.
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Tickets().ListByBoard(ctx, b1.ID)
			assert.NoError(t, err)
			for _, tk := range got {
				assert.Equal(t, b1.ID, tk.BoardID)
			}
		}()
	}
	wg.Wait()

	t1, err := s.Tickets().ListByBoard(ctx, b1.ID)
	require.NoError(t, err)
	t2, err := s.Tickets().ListByBoard(ctx, b2.ID)
	require.NoError(t, err)

	assert.Len(t, t1, perBoard)
	assert.Len(t, t2, perBoard)

	seen := make(map[uuid.UUID]uuid.UUID)
	for _, tk := range t1 {
		assert.Equal(t, b1.ID, tk.BoardID)
		seen[tk.ID] = b1.ID
	}
	for _, tk := range t2 {
		assert.Equal(t, b2.ID, tk.BoardID)
		_, dup := seen[tk.ID]
		assert.False(t, dup, "ticket %s visible under both boards", tk.ID)
	}
}

func TestListByBoard_NoImplicitDefaultBoard(t *testing.T) {
	t.Parallel()

	s := New()
	b := seedBoard(t, s, "Sprint 1")
	seedTicket(t, s, b, "Fix login bug")

	_, err := s.Tickets().ListByBoard(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Tickets().ListByBoard(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByBoard_EmptyBoard(t *testing.T) {
	t.Parallel()

	s := New()
	b := seedBoard(t, s, "Empty")

	got, err := s.Tickets().ListByBoard(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ---------------------------------------------------------------------------
// 2. ApplyMove atomicity
// ---------------------------------------------------------------------------

func TestApplyMove_Success(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b := seedBoard(t, s, "Sprint 1")
	tk := seedTicket(t, s, b, "Fix login bug")

	before := time.Now().UTC()
	from, err := s.Tickets().ApplyMove(ctx, tk.ID, "In Progress", time.Now().UTC())
	after := time.Now().UTC()
	require.NoError(t, err)
	assert.Equal(t, "Not Started", from)

	got, err := s.Tickets().GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", got.Column)
	assert.False(t, got.ColumnEnteredAt.Before(before))
	assert.False(t, got.ColumnEnteredAt.After(after))
}

func TestApplyMove_FailureLeavesTicketUnchanged(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b := seedBoard(t, s, "Sprint 1")
	tk := seedTicket(t, s, b, "Fix login bug")

	orig, err := s.Tickets().GetByID(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.Tickets().ApplyMove(ctx, tk.ID, "Archive", time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidColumn)

	_, err = s.Tickets().ApplyMove(ctx, uuid.New(), "Done", time.Now())
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.Tickets().GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestApplyMove_ColumnOfAnotherBoardIsInvalid(t *testing.T) {
	t.Parallel()

	s := New()
	b1 := seedBoard(t, s, "Sprint 1", "Todo", "Doing", "Done")
	seedBoard(t, s, "Ops", "Triage", "Fixing", "Closed")
	tk := seedTicket(t, s, b1, "Fix login bug")

	_, err := s.Tickets().ApplyMove(context.Background(), tk.ID, "Triage", time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidColumn)
}

// Concurrent moves of one ticket: every returned from_column must be a real
// pre-mutation value, so the chain of (from → to) pairs forms one sequence.
func TestApplyMove_ConcurrentMovesReportRealPriorColumn(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	cols := []string{"Not Started", "A", "B", "C", "Done"}
	b := seedBoard(t, s, "Race", cols...)
	tk := seedTicket(t, s, b, "contended")

	const movers = 64
	type pair struct{ from, to string }
	pairs := make(chan pair, movers)

	var wg sync.WaitGroup
	for i := range movers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			to := cols[i%len(cols)]
			from, err := s.Tickets().ApplyMove(ctx, tk.ID, to, time.Now())
			assert.NoError(t, err)
			pairs <- pair{from, to}
		}()
	}
	wg.Wait()
	close(pairs)

	// Count how often each column was entered and left; the multiset of
	// "from" values must equal {initial} ∪ ("to" values minus the final one).
	entered := map[string]int{"Not Started": 1}
	left := map[string]int{}
	for p := range pairs {
		entered[p.to]++
		left[p.from]++
	}
	final, err := s.Tickets().GetByID(ctx, tk.ID)
	require.NoError(t, err)
	entered[final.Column]--

	for col, n := range entered {
		assert.Equal(t, n, left[col], "column %q entered/left mismatch", col)
	}
}

func TestUpdateFields_KeepsColumnState(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b := seedBoard(t, s, "Sprint 1")
	tk := seedTicket(t, s, b, "Fix login bug")

	edit := tk.Clone()
	edit.Title = "Fix login bug (SSO)"
	edit.Column = "Done"
	edit.ColumnEnteredAt = time.Time{}
	edit.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.Tickets().UpdateFields(ctx, edit))

	got, err := s.Tickets().GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix login bug (SSO)", got.Title)
	assert.Equal(t, "Not Started", got.Column)
	assert.Equal(t, tk.ColumnEnteredAt, got.ColumnEnteredAt)

	edit.BoardID = uuid.New()
	err = s.Tickets().UpdateFields(ctx, edit)
	require.ErrorIs(t, err, domain.ErrIntegrity)
}

// ---------------------------------------------------------------------------
// 3. Cascade delete
// ---------------------------------------------------------------------------

func TestBoardDelete_CascadeCompleteness(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b := seedBoard(t, s, "Sprint 1")
	other := seedBoard(t, s, "Sprint 2")
	t1 := seedTicket(t, s, b, "T1")
	t2 := seedTicket(t, s, b, "T2")
	keep := seedTicket(t, s, other, "keep")
	seedComment(t, s, t1, "first")
	seedComment(t, s, t1, "second")
	seedComment(t, s, t2, "third")
	seedComment(t, s, keep, "untouched")
	require.NoError(t, s.History().Append(ctx, domain.NewMoveRecord(domain.MoveDelta{
		TicketID: t1.ID, BoardID: b.ID, FromColumn: "Not Started", ToColumn: "In Progress", MovedAt: time.Now(),
	})))

	var steps []cascadeStep
	s.beforeStep = func(step cascadeStep) error {
		steps = append(steps, step)
		return nil
	}

	require.NoError(t, s.Boards().Delete(ctx, b.ID))
	assert.Equal(t, []cascadeStep{stepComments, stepHistory, stepTickets, stepBoard}, steps)

	_, err := s.Boards().GetByID(ctx, b.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	for _, id := range []uuid.UUID{t1.ID, t2.ID} {
		_, err = s.Tickets().GetByID(ctx, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, s.comments[id], "orphaned comments for %s", id)
		assert.Empty(t, s.history[id], "orphaned history for %s", id)
	}

	// Other boards are untouched.
	remaining, err := s.Comments().ListByTicket(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestBoardDelete_ForcedFailureLeavesBoardIntact(t *testing.T) {
	t.Parallel()

	for _, failAt := range []cascadeStep{stepComments, stepHistory, stepTickets, stepBoard} {
		t.Run(string(failAt), func(t *testing.T) {
			t.Parallel()

			s := New()
			ctx := context.Background()
			b := seedBoard(t, s, "Sprint 1")
			t1 := seedTicket(t, s, b, "T1")
			t2 := seedTicket(t, s, b, "T2")
			seedComment(t, s, t1, "c1")
			seedComment(t, s, t2, "c2")

			boom := errors.New("disk full")
			s.beforeStep = func(step cascadeStep) error {
				if step == failAt {
					return boom
				}
				return nil
			}

			err := s.Boards().Delete(ctx, b.ID)
			require.ErrorIs(t, err, boom)

			_, err = s.Boards().GetByID(ctx, b.ID)
			require.NoError(t, err)
			got, err := s.Tickets().ListByBoard(ctx, b.ID)
			require.NoError(t, err)
			assert.Len(t, got, 2)
			for _, tk := range []*domain.Ticket{t1, t2} {
				cs, err := s.Comments().ListByTicket(ctx, tk.ID)
				require.NoError(t, err)
				assert.Len(t, cs, 1)
			}
		})
	}
}

func TestCascadeTx_OrderingViolationIsIntegrityError(t *testing.T) {
	t.Parallel()

	s := New()
	b := seedBoard(t, s, "Sprint 1")
	tk := seedTicket(t, s, b, "T1")
	seedComment(t, s, tk, "c1")

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	err := tx.deleteTickets(b.ID, []uuid.UUID{tk.ID})
	require.ErrorIs(t, err, domain.ErrIntegrity, "tickets must not be removed before their comments")

	err = tx.deleteBoard(b.ID)
	require.ErrorIs(t, err, domain.ErrIntegrity, "board must not be removed before its tickets")
}

func TestBoardDelete_NotFound(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Boards().Delete(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// 4. Comments and history
// ---------------------------------------------------------------------------

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	b := seedBoard(t, s, "Sprint 1")
	tk := seedTicket(t, s, b, "T1")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, to := range []string{"In Progress", "Done", "In Progress"} {
		require.NoError(t, s.History().Append(ctx, domain.NewMoveRecord(domain.MoveDelta{
			TicketID: tk.ID, BoardID: b.ID, ToColumn: to, MovedAt: base.Add(time.Duration(i) * time.Minute),
		})))
	}

	got, err := s.History().ListByTicket(ctx, tk.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(2*time.Minute), got[0].MovedAt)
	assert.Equal(t, base.Add(time.Minute), got[1].MovedAt)
}

func TestComments_RequireTicket(t *testing.T) {
	t.Parallel()

	s := New()
	c, err := domain.NewComment(uuid.New(), "sam", "hello")
	require.NoError(t, err)

	err = s.Comments().Create(context.Background(), c)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
