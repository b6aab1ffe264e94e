package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	BoardID   uuid.UUID       `json:"board_id,omitzero"`
	TicketID  uuid.UUID       `json:"ticket_id,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// Inbound events.
const (
	EventSubscribe = "subscribe"
	EventMove      = "move"
	EventPing      = "ping"
)

// Direct replies, sent only to the requesting connection.
const (
	EventSubscribed   = "subscribed"
	EventMoveAck      = "move_ack"
	EventMoveRejected = "move_rejected"
	EventPong         = "pong"
	EventError        = "error"
)

type SubscribePayload struct {
	BoardID uuid.UUID `json:"board_id"`
}

type MovePayload struct {
	TicketID     uuid.UUID `json:"ticket_id"`
	ToColumn     string    `json:"to_column,omitempty"`
	OverTicketID uuid.UUID `json:"over_ticket_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

type MoveRejectedPayload struct {
	TicketID  uuid.UUID `json:"ticket_id"`
	RequestID string    `json:"request_id,omitempty"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EnvelopeFor frames a board event for the wire.
func EnvelopeFor(ev domain.BoardEvent) (Envelope, error) {
	env := Envelope{
		Event:     string(ev.Type),
		BoardID:   ev.BoardID,
		TicketID:  ev.TicketID,
		Timestamp: ev.Timestamp,
	}
	if ev.Data != nil {
		data, err := marshalData(ev.Data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}
	return env, nil
}

// BoardEvent converts a received frame back into a board event with raw
// JSON data.
func (e Envelope) BoardEvent() domain.BoardEvent {
	ev := domain.BoardEvent{
		Type:      domain.EventType(e.Event),
		BoardID:   e.BoardID,
		TicketID:  e.TicketID,
		Timestamp: e.Timestamp,
	}
	if len(e.Data) > 0 {
		ev.Data = e.Data
	}
	return ev
}

func reply(event string, boardID uuid.UUID, data any) (Envelope, error) {
	env := Envelope{Event: event, BoardID: boardID, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := marshalData(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

func marshalData(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ws: encode data: %w", err)
	}
	return b, nil
}

// ErrorCode names a domain error for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidColumn):
		return "invalid_column"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrIntegrity):
		return "integrity"
	case errors.Is(err, domain.ErrStaleState):
		return "stale_state"
	case errors.Is(err, domain.ErrConnection):
		return "connection"
	default:
		return "internal"
	}
}

// ErrorForCode maps a wire code back to the domain sentinel.
func ErrorForCode(code string) error {
	switch code {
	case "not_found":
		return domain.ErrNotFound
	case "invalid_column":
		return domain.ErrInvalidColumn
	case "validation":
		return domain.ErrValidation
	case "integrity":
		return domain.ErrIntegrity
	case "stale_state":
		return domain.ErrStaleState
	case "connection":
		return domain.ErrConnection
	default:
		return errors.New("ws: internal server error")
	}
}
