package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Comment is append-only; it is created or removed with its ticket, never edited.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	TicketID  uuid.UUID `json:"ticket_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func NewComment(ticketID uuid.UUID, author, body string) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("comment: body is required: %w", ErrValidation)
	}
	author = strings.TrimSpace(author)
	if author == "" {
		author = "anonymous"
	}
	return &Comment{
		ID:        uuid.New(),
		TicketID:  ticketID,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type CommentRepository interface {
	Create(ctx context.Context, c *Comment) error
	ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*Comment, error)
}
