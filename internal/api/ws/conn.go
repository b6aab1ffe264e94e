package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/hub"
	"github.com/gosuda/kanbansync/internal/move"
)

var errHeartbeat = errors.New("ws: heartbeat timeout")

// conn is one client connection. It is the hub.Sender for that client.
type conn struct {
	h       *Handler
	ws      *websocket.Conn
	id      string
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu         sync.Mutex
	boardID    uuid.UUID
	closeCause error
	closeOnce  sync.Once
}

func newConn(h *Handler, ws *websocket.Conn, id string) *conn {
	return &conn{
		h:       h,
		ws:      ws,
		id:      id,
		limiter: rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst),
		logger:  log.With().Str("conn_id", id).Logger(),
	}
}

func (c *conn) Send(ctx context.Context, ev domain.BoardEvent) error {
	env, err := EnvelopeFor(ev)
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// Close starts the close handshake and returns immediately. The read loop
// observes the peer's close frame and ends the connection.
func (c *conn) Close(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCause = reason
		c.mu.Unlock()

		status, text := closeStatus(reason)
		go func() { _ = c.ws.Close(status, text) }()
	})
}

func closeStatus(reason error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(reason, hub.ErrBoardDeleted):
		return websocket.StatusGoingAway, "board deleted"
	case errors.Is(reason, hub.ErrShuttingDown):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(reason, errHeartbeat):
		return websocket.StatusPolicyViolation, "heartbeat timeout"
	case errors.Is(reason, domain.ErrConnection):
		return websocket.StatusTryAgainLater, "evicted"
	default:
		return websocket.StatusNormalClosure, ""
	}
}

func (c *conn) write(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: encode envelope: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

func (c *conn) currentBoard() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

func (c *conn) subscribe(boardID uuid.UUID) error {
	if err := c.h.subs.Subscribe(c.id, boardID, c); err != nil {
		return err
	}
	c.mu.Lock()
	c.boardID = boardID
	c.mu.Unlock()
	c.logger.Info().Str("board_id", boardID.String()).Msg("websocket subscribed")
	return nil
}

func (c *conn) serve(parent context.Context, boardID uuid.UUID) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := c.subscribe(boardID); err != nil {
		c.logger.Error().Err(err).Msg("websocket subscribe")
		_ = c.ws.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer c.h.subs.Unsubscribe(c.id)

	c.replyTo(ctx, EventSubscribed, SubscribePayload{BoardID: boardID})

	go c.heartbeat(ctx)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}
		if !c.limiter.Allow() {
			c.replyTo(ctx, EventError, ErrorPayload{Code: "rate_limited", Message: "too many messages"})
			continue
		}
		c.handle(ctx, data)
	}
}

func (c *conn) finish(readErr error) {
	c.mu.Lock()
	cause := c.closeCause
	c.mu.Unlock()

	switch {
	case cause != nil:
		c.logger.Info().Err(cause).Msg("websocket closed by server")
	case websocket.CloseStatus(readErr) != -1:
		c.logger.Debug().Int("status", int(websocket.CloseStatus(readErr))).Msg("websocket closed by client")
	default:
		c.logger.Debug().Err(readErr).Msg("websocket read")
	}
}

// heartbeat pings every PingInterval and gives up after MaxMissedPongs
// consecutive misses.
func (c *conn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.h.opts.PongTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err == nil {
				missed = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			missed++
			c.logger.Debug().Err(err).Int("missed", missed).Msg("websocket pong missed")
			if missed >= c.h.opts.MaxMissedPongs {
				c.h.subs.Unsubscribe(c.id)
				c.Close(errHeartbeat)
				return
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyTo(ctx, EventError, ErrorPayload{Code: "validation", Message: "malformed frame"})
		return
	}

	switch env.Event {
	case EventPing:
		c.replyTo(ctx, EventPong, nil)

	case EventSubscribe:
		target := env.BoardID
		if target == uuid.Nil && len(env.Data) > 0 {
			var p SubscribePayload
			if err := json.Unmarshal(env.Data, &p); err == nil {
				target = p.BoardID
			}
		}
		if _, err := c.h.boards.GetByID(ctx, target); err != nil {
			c.replyTo(ctx, EventError, ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
			return
		}
		if err := c.subscribe(target); err != nil {
			c.replyTo(ctx, EventError, ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
			return
		}
		c.replyTo(ctx, EventSubscribed, SubscribePayload{BoardID: target})

	case EventMove:
		var p MovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.TicketID == uuid.Nil {
			c.replyTo(ctx, EventMoveRejected, MoveRejectedPayload{
				TicketID: p.TicketID, RequestID: p.RequestID, Code: "validation", Error: "ticket_id and to_column are required",
			})
			return
		}
		res, err := c.h.mover.Move(ctx, move.Request{
			TicketID:     p.TicketID,
			ToColumn:     p.ToColumn,
			OverTicketID: p.OverTicketID,
			RequestID:    p.RequestID,
		})
		if err != nil {
			c.replyTo(ctx, EventMoveRejected, MoveRejectedPayload{
				TicketID: p.TicketID, RequestID: p.RequestID, Code: ErrorCode(err), Error: err.Error(),
			})
			return
		}
		c.replyTo(ctx, EventMoveAck, res)

	default:
		c.replyTo(ctx, EventError, ErrorPayload{Code: "validation", Message: fmt.Sprintf("unknown event %q", env.Event)})
	}
}

func (c *conn) replyTo(ctx context.Context, event string, data any) {
	env, err := reply(event, c.currentBoard(), data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("websocket reply encode")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, c.h.opts.PongTimeout)
	defer cancel()
	if err := c.write(wctx, env); err != nil {
		c.logger.Debug().Err(err).Str("event", event).Msg("websocket reply")
	}
}
