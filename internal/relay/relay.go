// Package relay carries board events between service instances. Every
// instance publishes mutations to the Bus and feeds what it receives into its
// local hub, so subscribers on any instance see the same per-board order.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Sink receives events delivered by the bus. *hub.Hub satisfies it.
type Sink interface {
	Publish(ctx context.Context, boardID uuid.UUID, ev domain.BoardEvent) error
}

type Bus interface {
	Publish(ctx context.Context, ev domain.BoardEvent) error
	// Run delivers incoming events to the sink until ctx is cancelled.
	Run(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// wireEvent keeps Data as raw JSON so relayed payloads are forwarded to
// clients byte-for-byte.
type wireEvent struct {
	Type      domain.EventType `json:"type"`
	BoardID   uuid.UUID        `json:"board_id"`
	TicketID  uuid.UUID        `json:"ticket_id,omitzero"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func encodeEvent(ev domain.BoardEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

func decodeEvent(payload []byte) (domain.BoardEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.BoardEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if w.BoardID == uuid.Nil {
		return domain.BoardEvent{}, fmt.Errorf("decode event: missing board_id: %w", domain.ErrValidation)
	}
	ev := domain.BoardEvent{
		Type:      w.Type,
		BoardID:   w.BoardID,
		TicketID:  w.TicketID,
		Timestamp: w.Timestamp,
	}
	if len(w.Data) > 0 {
		ev.Data = w.Data
	}
	return ev, nil
}
