package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates BoardEvent payloads.
type EventType string

const (
	EventTicketCreated  EventType = "ticket_created"
	EventTicketUpdated  EventType = "ticket_updated"
	EventTicketMoved    EventType = "ticket_moved"
	EventTicketDeleted  EventType = "ticket_deleted"
	EventCommentAdded   EventType = "comment_added"
	EventClassification EventType = "classification"
	EventBoardDeleted   EventType = "board_deleted"
)

// BoardEvent is a real-time board update handed to the transport for
// serialization. Every event is scoped to exactly one board.
type BoardEvent struct {
	Type      EventType `json:"type"`
	BoardID   uuid.UUID `json:"board_id"`
	TicketID  uuid.UUID `json:"ticket_id,omitzero"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBoardEvent stamps an event with the current UTC time.
func NewBoardEvent(typ EventType, boardID, ticketID uuid.UUID, data any) BoardEvent {
	return BoardEvent{
		Type:      typ,
		BoardID:   boardID,
		TicketID:  ticketID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
