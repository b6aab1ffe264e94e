package dwell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/store/memory"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testBoard(t *testing.T) *domain.Board {
	t.Helper()
	b, err := domain.NewBoard("Sprint 1", []string{"Backlog", "To Do", "In Progress", "Review", "Done"})
	require.NoError(t, err)
	return b
}

// ticketWithDwell places a ticket in column with the given dwell, created
// well before the grace period.
func ticketWithDwell(b *domain.Board, column string, dwell time.Duration) *domain.Ticket {
	return &domain.Ticket{
		ID:              uuid.New(),
		BoardID:         b.ID,
		Column:          column,
		Title:           "t",
		ColumnEnteredAt: now.Add(-dwell),
		CreatedAt:       now.Add(-30 * 24 * time.Hour),
		UpdatedAt:       now.Add(-dwell),
	}
}

func colorOf(t *testing.T, res Result, id uuid.UUID) domain.Color {
	t.Helper()
	c, ok := res.Colors()[id]
	require.True(t, ok, "ticket %s not classified", id)
	return c
}

func TestClassifyFlagsOutlierRed(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	var tickets []*domain.Ticket
	for range 9 {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", time.Hour))
	}
	outlier := ticketWithDwell(b, "Review", 100*time.Hour)
	tickets = append(tickets, outlier)

	res := Classify(b, tickets, now, DefaultOptions())

	require.Len(t, res.Classifications, 10)
	assert.True(t, res.Summary.Sufficient)
	assert.Equal(t, 10, res.Summary.Population)
	assert.Equal(t, domain.ColorRed, colorOf(t, res, outlier.ID))
	for _, tk := range tickets[:9] {
		assert.Contains(t, []domain.Color{domain.ColorGreen, domain.ColorYellow}, colorOf(t, res, tk.ID))
	}
}

func TestClassifyMinuteScaleOutlier(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	var tickets []*domain.Ticket
	for range 9 {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", time.Minute))
	}
	outlier := ticketWithDwell(b, "In Progress", 100*time.Minute)
	tickets = append(tickets, outlier)

	res := Classify(b, tickets, now, DefaultOptions())

	require.True(t, res.Summary.Sufficient)
	assert.Equal(t, 10, res.Summary.Population)
	assert.Equal(t, domain.ColorRed, colorOf(t, res, outlier.ID))
	// Mean 10.9m, sigma ~29.7m: the band's lower edge is negative.
	for _, tk := range tickets[:9] {
		assert.Equal(t, domain.ColorYellow, colorOf(t, res, tk.ID))
	}

	// Created when they entered the column, the nine one-minute tickets are
	// still in grace and the remaining sample is too small.
	fresh := make([]*domain.Ticket, 0, len(tickets))
	for _, tk := range tickets {
		c := *tk
		c.CreatedAt = c.ColumnEnteredAt
		fresh = append(fresh, &c)
	}
	res = Classify(b, fresh, now, DefaultOptions())

	assert.False(t, res.Summary.Sufficient)
	assert.Equal(t, 1, res.Summary.Population)
	for _, c := range res.Classifications {
		assert.Equal(t, domain.ColorGray, c.Color)
	}
}

func TestClassifyBands(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	// Dwell hours 1..10 plus one short and one long ticket.
	var tickets []*domain.Ticket
	for i := 1; i <= 10; i++ {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", time.Duration(i)*time.Hour))
	}
	short := ticketWithDwell(b, "To Do", time.Minute)
	long := ticketWithDwell(b, "Review", 20*time.Hour)
	tickets = append(tickets, short, long)

	res := Classify(b, tickets, now, DefaultOptions())

	assert.Equal(t, domain.ColorGreen, colorOf(t, res, short.ID))
	assert.Equal(t, domain.ColorRed, colorOf(t, res, long.ID))
	assert.Less(t, res.Summary.Lower, res.Summary.Mean)
	assert.Greater(t, res.Summary.Upper, res.Summary.Mean)

	for _, tk := range tickets {
		d := tk.Dwell(now)
		switch colorOf(t, res, tk.ID) {
		case domain.ColorGreen:
			assert.Less(t, d, res.Summary.Lower)
		case domain.ColorRed:
			assert.Greater(t, d, res.Summary.Upper)
		case domain.ColorYellow:
			assert.GreaterOrEqual(t, d, res.Summary.Lower)
			assert.LessOrEqual(t, d, res.Summary.Upper)
		default:
			t.Fatalf("unexpected gray for %s", tk.ID)
		}
	}
}

func TestClassifySmallPopulationIsGray(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	tickets := []*domain.Ticket{
		ticketWithDwell(b, "In Progress", time.Hour),
		ticketWithDwell(b, "In Progress", 2*time.Hour),
		ticketWithDwell(b, "Review", 300*time.Hour),
	}

	res := Classify(b, tickets, now, DefaultOptions())

	assert.False(t, res.Summary.Sufficient)
	assert.Equal(t, 3, res.Summary.Population)
	for _, c := range res.Classifications {
		assert.Equal(t, domain.ColorGray, c.Color)
	}
}

func TestClassifyExcludesBoundaryColumns(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	var tickets []*domain.Ticket
	for range 10 {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", time.Hour))
	}
	backlog := ticketWithDwell(b, "Backlog", 1000*time.Hour)
	done := ticketWithDwell(b, "Done", 1000*time.Hour)
	tickets = append(tickets, backlog, done)

	res := Classify(b, tickets, now, DefaultOptions())

	assert.Equal(t, 10, res.Summary.Population)
	assert.Equal(t, domain.ColorGray, colorOf(t, res, backlog.ID))
	assert.Equal(t, domain.ColorGray, colorOf(t, res, done.ID))
	assert.Equal(t, time.Hour, res.Summary.Mean)
}

func TestClassifyGracePeriod(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	var tickets []*domain.Ticket
	for range 10 {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", 2*time.Hour))
	}
	fresh := ticketWithDwell(b, "In Progress", 10*time.Minute)
	fresh.CreatedAt = now.Add(-10 * time.Minute)
	tickets = append(tickets, fresh)

	res := Classify(b, tickets, now, DefaultOptions())

	assert.Equal(t, 10, res.Summary.Population)
	assert.Equal(t, domain.ColorGray, colorOf(t, res, fresh.ID))
}

func TestClassifyIgnoresOtherBoards(t *testing.T) {
	t.Parallel()

	b := testBoard(t)
	other := testBoard(t)

	var tickets []*domain.Ticket
	for range 10 {
		tickets = append(tickets, ticketWithDwell(b, "In Progress", time.Hour))
	}
	foreign := ticketWithDwell(other, "In Progress", 1000*time.Hour)
	tickets = append(tickets, foreign)

	res := Classify(b, tickets, now, DefaultOptions())

	assert.Len(t, res.Classifications, 10)
	_, ok := res.Colors()[foreign.ID]
	assert.False(t, ok)
	assert.Equal(t, time.Hour, res.Summary.Mean)
}

func TestClassifyEmptyBoard(t *testing.T) {
	t.Parallel()

	res := Classify(testBoard(t), nil, now, Options{})
	assert.Empty(t, res.Classifications)
	assert.Zero(t, res.Summary.Population)
	assert.False(t, res.Summary.Sufficient)
}

// fakeHub lists ids and records what is published to it.
type fakeHub struct {
	ids []uuid.UUID

	mu     sync.Mutex
	events []domain.BoardEvent
}

func (f *fakeHub) Boards() []uuid.UUID { return f.ids }

func (f *fakeHub) Publish(_ context.Context, _ uuid.UUID, ev domain.BoardEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeHub) received() []domain.BoardEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BoardEvent(nil), f.events...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.BoardEvent
	// fanOut, when set, delivers every event to each hub like a shared bus.
	fanOut []*fakeHub
}

func (f *fakePublisher) Publish(ctx context.Context, ev domain.BoardEvent) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	for _, h := range f.fanOut {
		_ = h.Publish(ctx, ev.BoardID, ev)
	}
	return nil
}

func (f *fakePublisher) published() []domain.BoardEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BoardEvent(nil), f.events...)
}

func TestEngineTickPublishesPerSubscribedBoard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	watched := testBoard(t)
	idle := testBoard(t)
	require.NoError(t, store.Boards().Create(ctx, watched))
	require.NoError(t, store.Boards().Create(ctx, idle))

	for i := range 10 {
		tk := ticketWithDwell(watched, "In Progress", time.Duration(i+1)*time.Hour)
		require.NoError(t, store.Tickets().Create(ctx, tk))
	}

	local := &fakeHub{ids: []uuid.UUID{watched.ID, uuid.New()}}
	bus := &fakePublisher{}
	engine := NewEngine(store, local, bus, DefaultOptions(), time.Second)
	engine.Now = func() time.Time { return now }

	engine.Tick(ctx)

	got := local.received()
	require.Len(t, got, 1, "missing boards are skipped, idle boards are never visited")
	ev := got[0]
	assert.Equal(t, domain.EventClassification, ev.Type)
	assert.Equal(t, watched.ID, ev.BoardID)
	assert.Empty(t, bus.published(), "periodic cycles stay on this instance")

	res, ok := ev.Data.(Result)
	require.True(t, ok)
	assert.Len(t, res.Classifications, 10)
	assert.True(t, res.Summary.Sufficient)
}

func TestEngineTickDeliversOneCopyPerInstance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	b := testBoard(t)
	require.NoError(t, store.Boards().Create(ctx, b))

	// Two instances with subscribers on the same board and a shared bus.
	first := &fakeHub{ids: []uuid.UUID{b.ID}}
	second := &fakeHub{ids: []uuid.UUID{b.ID}}
	bus := &fakePublisher{fanOut: []*fakeHub{first, second}}

	NewEngine(store, first, bus, DefaultOptions(), time.Second).Tick(ctx)
	NewEngine(store, second, bus, DefaultOptions(), time.Second).Tick(ctx)

	assert.Len(t, first.received(), 1)
	assert.Len(t, second.received(), 1)

	// A move-triggered refresh goes over the bus once and reaches both.
	require.NoError(t, NewEngine(store, first, bus, DefaultOptions(), time.Second).PublishBoard(ctx, b.ID))
	assert.Len(t, first.received(), 2)
	assert.Len(t, second.received(), 2)
}

func TestEngineClassifyBoardNotFound(t *testing.T) {
	t.Parallel()

	engine := NewEngine(memory.New(), &fakeHub{}, &fakePublisher{}, Options{}, 0)
	_, err := engine.ClassifyBoard(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	engine := NewEngine(memory.New(), &fakeHub{}, &fakePublisher{}, Options{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}
