package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/dwell"
	"github.com/gosuda/kanbansync/internal/move"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var sprintColumns = []string{"Not Started", "In Progress", "Review", "Done"}

func sprintBoard() *domain.Board {
	return &domain.Board{
		ID:        uuid.New(),
		Name:      "Sprint 1",
		Columns:   append([]string(nil), sprintColumns...),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func ticketOn(b *domain.Board, title, column string) *domain.Ticket {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Ticket{
		ID:              uuid.New(),
		BoardID:         b.ID,
		Column:          column,
		Title:           title,
		ColumnEnteredAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	boards   domain.BoardRepository
	tickets  domain.TicketRepository
	comments domain.CommentRepository
	history  domain.MoveHistoryRepository
}

func (m *mockDataStore) Boards() domain.BoardRepository        { return m.boards }
func (m *mockDataStore) Tickets() domain.TicketRepository      { return m.tickets }
func (m *mockDataStore) Comments() domain.CommentRepository    { return m.comments }
func (m *mockDataStore) History() domain.MoveHistoryRepository { return m.history }

// ---------------------------------------------------------------------------
// Mock BoardRepository
// ---------------------------------------------------------------------------

type mockBoardRepo struct {
	createFunc  func(ctx context.Context, b *domain.Board) error
	getByIDFunc func(ctx context.Context, id uuid.UUID) (*domain.Board, error)
	listFunc    func(ctx context.Context) ([]*domain.Board, error)
	deleteFunc  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockBoardRepo) Create(ctx context.Context, b *domain.Board) error {
	return m.createFunc(ctx, b)
}

func (m *mockBoardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Board, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockBoardRepo) List(ctx context.Context) ([]*domain.Board, error) {
	return m.listFunc(ctx)
}

func (m *mockBoardRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock TicketRepository
// ---------------------------------------------------------------------------

type mockTicketRepo struct {
	createFunc       func(ctx context.Context, t *domain.Ticket) error
	getByIDFunc      func(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	listByBoardFunc  func(ctx context.Context, boardID uuid.UUID) ([]*domain.Ticket, error)
	updateFieldsFunc func(ctx context.Context, t *domain.Ticket) error
	applyMoveFunc    func(ctx context.Context, id uuid.UUID, toColumn string, at time.Time) (string, error)
	deleteFunc       func(ctx context.Context, id uuid.UUID) error
}

func (m *mockTicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	return m.createFunc(ctx, t)
}

func (m *mockTicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTicketRepo) ListByBoard(ctx context.Context, boardID uuid.UUID) ([]*domain.Ticket, error) {
	return m.listByBoardFunc(ctx, boardID)
}

func (m *mockTicketRepo) UpdateFields(ctx context.Context, t *domain.Ticket) error {
	return m.updateFieldsFunc(ctx, t)
}

func (m *mockTicketRepo) ApplyMove(ctx context.Context, id uuid.UUID, toColumn string, at time.Time) (string, error) {
	return m.applyMoveFunc(ctx, id, toColumn, at)
}

func (m *mockTicketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock CommentRepository and MoveHistoryRepository
// ---------------------------------------------------------------------------

type mockCommentRepo struct {
	createFunc       func(ctx context.Context, c *domain.Comment) error
	listByTicketFunc func(ctx context.Context, ticketID uuid.UUID) ([]*domain.Comment, error)
}

func (m *mockCommentRepo) Create(ctx context.Context, c *domain.Comment) error {
	return m.createFunc(ctx, c)
}

func (m *mockCommentRepo) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*domain.Comment, error) {
	return m.listByTicketFunc(ctx, ticketID)
}

type mockHistoryRepo struct {
	appendFunc       func(ctx context.Context, rec *domain.MoveRecord) error
	listByTicketFunc func(ctx context.Context, ticketID uuid.UUID, limit int) ([]*domain.MoveRecord, error)
}

func (m *mockHistoryRepo) Append(ctx context.Context, rec *domain.MoveRecord) error {
	return m.appendFunc(ctx, rec)
}

func (m *mockHistoryRepo) ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*domain.MoveRecord, error) {
	return m.listByTicketFunc(ctx, ticketID, limit)
}

// ---------------------------------------------------------------------------
// Mock Mutator
// ---------------------------------------------------------------------------

type mockMutator struct {
	createBoardFunc  func(ctx context.Context, name string, columns []string) (*domain.Board, error)
	deleteBoardFunc  func(ctx context.Context, boardID uuid.UUID) error
	createTicketFunc func(ctx context.Context, boardID uuid.UUID, in move.CreateTicketInput) (*domain.Ticket, error)
	updateTicketFunc func(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) (*domain.Ticket, error)
	deleteTicketFunc func(ctx context.Context, id uuid.UUID) error
	addCommentFunc   func(ctx context.Context, ticketID uuid.UUID, author, body string) (*domain.Comment, error)
	moveFunc         func(ctx context.Context, req move.Request) (domain.MoveResult, error)
}

func (m *mockMutator) CreateBoard(ctx context.Context, name string, columns []string) (*domain.Board, error) {
	return m.createBoardFunc(ctx, name, columns)
}

func (m *mockMutator) DeleteBoard(ctx context.Context, boardID uuid.UUID) error {
	return m.deleteBoardFunc(ctx, boardID)
}

func (m *mockMutator) CreateTicket(ctx context.Context, boardID uuid.UUID, in move.CreateTicketInput) (*domain.Ticket, error) {
	return m.createTicketFunc(ctx, boardID, in)
}

func (m *mockMutator) UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) (*domain.Ticket, error) {
	return m.updateTicketFunc(ctx, id, patch)
}

func (m *mockMutator) DeleteTicket(ctx context.Context, id uuid.UUID) error {
	return m.deleteTicketFunc(ctx, id)
}

func (m *mockMutator) AddComment(ctx context.Context, ticketID uuid.UUID, author, body string) (*domain.Comment, error) {
	return m.addCommentFunc(ctx, ticketID, author, body)
}

func (m *mockMutator) Move(ctx context.Context, req move.Request) (domain.MoveResult, error) {
	return m.moveFunc(ctx, req)
}

// ---------------------------------------------------------------------------
// Mock Classifier
// ---------------------------------------------------------------------------

type mockClassifier struct {
	classifyBoardFunc func(ctx context.Context, boardID uuid.UUID) (dwell.Result, error)
}

func (m *mockClassifier) ClassifyBoard(ctx context.Context, boardID uuid.UUID) (dwell.Result, error) {
	return m.classifyBoardFunc(ctx, boardID)
}
