// Package ws is the board WebSocket transport. A connection subscribes to
// exactly one board, receives that board's events and may submit moves.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/hub"
	"github.com/gosuda/kanbansync/internal/move"
)

// Subscriptions is the part of the hub the transport drives.
type Subscriptions interface {
	Subscribe(connID string, boardID uuid.UUID, sender hub.Sender) error
	Unsubscribe(connID string)
}

type Mover interface {
	Move(ctx context.Context, req move.Request) (domain.MoveResult, error)
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
	// MessagesPerSecond and Burst bound inbound frames per connection.
	MessagesPerSecond float64
	Burst             int
	ReadLimit         int64
	OriginPatterns    []string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 5 * time.Second
	}
	if o.MaxMissedPongs <= 0 {
		o.MaxMissedPongs = 2
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	return o
}

type Handler struct {
	subs   Subscriptions
	mover  Mover
	boards domain.BoardRepository
	opts   Options

	NewConnID func() string
}

func NewHandler(subs Subscriptions, mover Mover, boards domain.BoardRepository, opts Options) *Handler {
	return &Handler{
		subs:      subs,
		mover:     mover,
		boards:    boards,
		opts:      opts.withDefaults(),
		NewConnID: nuid.Next,
	}
}

// ServeBoard upgrades GET /ws/boards/{boardID} and serves the connection
// until either side goes away.
func (h *Handler) ServeBoard(w http.ResponseWriter, r *http.Request) {
	boardID, err := uuid.Parse(chi.URLParam(r, "boardID"))
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}
	if _, err := h.boards.GetByID(r.Context(), boardID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "board not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("board_id", boardID.String()).Msg("websocket board lookup")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer wsConn.CloseNow()
	wsConn.SetReadLimit(h.opts.ReadLimit)

	c := newConn(h, wsConn, h.NewConnID())
	c.serve(r.Context(), boardID)
}
