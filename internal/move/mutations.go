package move

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

type CreateTicketInput struct {
	Title       string
	Description string
	// Column defaults to the board's first column.
	Column string
	Fields map[string]string
}

func (c *Coordinator) CreateBoard(ctx context.Context, name string, columns []string) (*domain.Board, error) {
	b, err := domain.NewBoard(name, columns)
	if err != nil {
		return nil, fmt.Errorf("move.CreateBoard: %w", err)
	}
	b.CreatedAt = c.Now()
	if err := c.store.Boards().Create(ctx, b); err != nil {
		return nil, fmt.Errorf("move.CreateBoard: %w", err)
	}

	log.Info().Str("board_id", b.ID.String()).Strs("columns", b.Columns).Msg("board created")
	return b, nil
}

// DeleteBoard cascades the delete in the store and then tells subscribers
// the board is gone; the hub disconnects them after delivery.
func (c *Coordinator) DeleteBoard(ctx context.Context, boardID uuid.UUID) error {
	if err := c.store.Boards().Delete(ctx, boardID); err != nil {
		return fmt.Errorf("move.DeleteBoard: %w", err)
	}
	c.publish(ctx, domain.NewBoardEvent(domain.EventBoardDeleted, boardID, uuid.Nil, nil))

	log.Info().Str("board_id", boardID.String()).Msg("board deleted")
	return nil
}

func (c *Coordinator) CreateTicket(ctx context.Context, boardID uuid.UUID, in CreateTicketInput) (*domain.Ticket, error) {
	b, err := c.store.Boards().GetByID(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("move.CreateTicket: %w", err)
	}
	t, err := domain.NewTicket(b, in.Title, in.Description, in.Column, in.Fields)
	if err != nil {
		return nil, fmt.Errorf("move.CreateTicket: %w", err)
	}
	now := c.Now()
	t.CreatedAt, t.UpdatedAt, t.ColumnEnteredAt = now, now, now

	if err := c.store.Tickets().Create(ctx, t); err != nil {
		return nil, fmt.Errorf("move.CreateTicket: %w", err)
	}
	c.publish(ctx, domain.NewBoardEvent(domain.EventTicketCreated, t.BoardID, t.ID, t))
	return t, nil
}

// UpdateTicket edits descriptive fields only; column changes go through Move.
func (c *Coordinator) UpdateTicket(ctx context.Context, id uuid.UUID, patch domain.TicketPatch) (*domain.Ticket, error) {
	t, err := c.store.Tickets().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("move.UpdateTicket: %w", err)
	}
	if err := patch.Apply(t, c.Now()); err != nil {
		return nil, fmt.Errorf("move.UpdateTicket: %w", err)
	}
	if err := c.store.Tickets().UpdateFields(ctx, t); err != nil {
		return nil, fmt.Errorf("move.UpdateTicket: %w", err)
	}

	fresh, err := c.store.Tickets().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("move.UpdateTicket: reload: %w", err)
	}
	c.publish(ctx, domain.NewBoardEvent(domain.EventTicketUpdated, fresh.BoardID, fresh.ID, fresh))
	return fresh, nil
}

func (c *Coordinator) DeleteTicket(ctx context.Context, id uuid.UUID) error {
	t, err := c.store.Tickets().GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("move.DeleteTicket: %w", err)
	}
	if err := c.store.Tickets().Delete(ctx, id); err != nil {
		return fmt.Errorf("move.DeleteTicket: %w", err)
	}
	c.publish(ctx, domain.NewBoardEvent(domain.EventTicketDeleted, t.BoardID, t.ID, nil))
	c.reclassify(ctx, t.BoardID)
	return nil
}

func (c *Coordinator) AddComment(ctx context.Context, ticketID uuid.UUID, author, body string) (*domain.Comment, error) {
	t, err := c.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("move.AddComment: %w", err)
	}
	cm, err := domain.NewComment(ticketID, author, body)
	if err != nil {
		return nil, fmt.Errorf("move.AddComment: %w", err)
	}
	cm.CreatedAt = c.Now()
	if err := c.store.Comments().Create(ctx, cm); err != nil {
		return nil, fmt.Errorf("move.AddComment: %w", err)
	}
	c.publish(ctx, domain.NewBoardEvent(domain.EventCommentAdded, t.BoardID, t.ID, cm))
	return cm, nil
}
