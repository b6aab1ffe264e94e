// Package hub fans board events out to the connections subscribed to that
// board. Each board has one actor goroutine that owns its event order; each
// subscriber has a bounded outbox drained by its own writer goroutine, so a
// slow connection only ever stalls itself.
package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Sender delivers one event to a single connection.
type Sender interface {
	// Send writes ev to the connection. ctx carries the per-message write
	// timeout.
	Send(ctx context.Context, ev domain.BoardEvent) error
	// Close is called when the hub drops the connection on its own
	// initiative: eviction, board deletion or shutdown.
	Close(reason error)
}

var (
	// ErrBoardDeleted is the close reason handed to subscribers of a deleted board.
	ErrBoardDeleted = errors.New("hub: board deleted")
	// ErrShuttingDown is the close reason handed to every subscriber by Close.
	ErrShuttingDown = errors.New("hub: shutting down")
)

type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type Hub struct {
	opts Options

	mu     sync.Mutex
	boards map[uuid.UUID]*boardActor
	conns  map[string]*subscriber
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		opts:   opts.withDefaults(),
		boards: make(map[uuid.UUID]*boardActor),
		conns:  make(map[string]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers connID on boardID. A connection belongs to at most one
// board; subscribing again moves it.
func (h *Hub) Subscribe(connID string, boardID uuid.UUID, sender Sender) error {
	if connID == "" || boardID == uuid.Nil {
		return fmt.Errorf("hub.Subscribe: conn and board ids are required: %w", domain.ErrValidation)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("hub.Subscribe: hub closed: %w", domain.ErrConnection)
	}

	if prev, ok := h.conns[connID]; ok {
		h.detachLocked(prev)
	}

	actor, ok := h.boards[boardID]
	if !ok {
		actor = newBoardActor(boardID)
		h.boards[boardID] = actor
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			actor.run(h)
		}()
	}

	sub := &subscriber{
		connID: connID,
		actor:  actor,
		sender: sender,
		outbox: make(chan domain.BoardEvent, h.opts.OutboxSize),
		stop:   make(chan struct{}),
	}

	actor.mu.Lock()
	actor.subs[connID] = sub
	actor.mu.Unlock()
	h.conns[connID] = sub

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		sub.write(h)
	}()

	log.Debug().Str("conn_id", connID).Str("board_id", boardID.String()).Msg("hub: subscribed")
	return nil
}

// Unsubscribe removes connID from whatever board it is on. Unknown ids are a
// no-op.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.conns[connID]; ok {
		h.detachLocked(sub)
		log.Debug().Str("conn_id", connID).Msg("hub: unsubscribed")
	}
}

// Publish enqueues ev on the board's ordering queue and returns without
// waiting for delivery. Events for a board with no subscribers are dropped.
// A board_deleted event is delivered and then the board is dropped.
func (h *Hub) Publish(_ context.Context, boardID uuid.UUID, ev domain.BoardEvent) error {
	if ev.BoardID != boardID {
		return fmt.Errorf("hub.Publish: event scoped to board %s, published on %s: %w",
			ev.BoardID, boardID, domain.ErrValidation)
	}

	h.mu.Lock()
	actor := h.boards[boardID]
	h.mu.Unlock()

	if actor == nil {
		return nil
	}
	actor.enqueue(item{ev: ev})
	if ev.Type == domain.EventBoardDeleted {
		h.DropBoard(boardID)
	}
	return nil
}

// Boards returns the boards that currently have at least one subscriber.
func (h *Hub) Boards() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]uuid.UUID, 0, len(h.boards))
	for id := range h.boards {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Subscribers returns the number of connections on boardID.
func (h *Hub) Subscribers(boardID uuid.UUID) int {
	h.mu.Lock()
	actor := h.boards[boardID]
	h.mu.Unlock()

	if actor == nil {
		return 0
	}
	actor.mu.Lock()
	defer actor.mu.Unlock()
	return len(actor.subs)
}

// DropBoard disconnects every subscriber of boardID once the events already
// queued for it have been handed to their outboxes.
func (h *Hub) DropBoard(boardID uuid.UUID) {
	h.mu.Lock()
	actor, ok := h.boards[boardID]
	if ok {
		delete(h.boards, boardID)
		actor.mu.Lock()
		for id, sub := range actor.subs {
			if h.conns[id] == sub {
				delete(h.conns, id)
			}
		}
		actor.mu.Unlock()
	}
	h.mu.Unlock()

	if ok {
		actor.enqueue(item{drop: true})
		log.Info().Str("board_id", boardID.String()).Msg("hub: board dropped")
	}
}

// Close tells every subscriber the server is going away, then stops every
// actor and writer goroutine and waits for them.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.conns))
	for _, sub := range h.conns {
		subs = append(subs, sub)
		h.detachLocked(sub)
	}
	for id, actor := range h.boards {
		delete(h.boards, id)
		actor.shutdown()
	}
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	for _, sub := range subs {
		sub.sender.Close(ErrShuttingDown)
	}
	if len(subs) > 0 {
		log.Info().Int("subscribers", len(subs)).Msg("hub: closed")
	}
}

// evict removes sub after a failed or overflowing delivery and tells its
// connection to close. It reports false when sub was no longer registered.
func (h *Hub) evict(sub *subscriber, cause error) bool {
	h.mu.Lock()
	current := h.conns[sub.connID] == sub
	if current {
		h.detachLocked(sub)
	}
	h.mu.Unlock()

	if !current {
		return false
	}
	err := fmt.Errorf("%w: %w", domain.ErrConnection, cause)
	log.Warn().Err(err).
		Str("conn_id", sub.connID).
		Str("board_id", sub.actor.id.String()).
		Msg("hub: subscriber evicted")
	sub.sender.Close(err)
	return true
}

// detachLocked must be called with h.mu held.
func (h *Hub) detachLocked(sub *subscriber) {
	if h.conns[sub.connID] == sub {
		delete(h.conns, sub.connID)
	}

	actor := sub.actor
	actor.mu.Lock()
	if actor.subs[sub.connID] == sub {
		delete(actor.subs, sub.connID)
	}
	empty := len(actor.subs) == 0
	actor.mu.Unlock()

	sub.halt()

	if empty && h.boards[actor.id] == actor {
		delete(h.boards, actor.id)
		actor.shutdown()
	}
}
