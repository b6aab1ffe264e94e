// Package wsclient is a Go client for one board. A Session holds the
// board's WebSocket open, feeds broadcasts into a reconcile.Reconciler and
// settles journaled moves against the REST API on every (re)connect.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/kanbansync/internal/api/ws"
	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/reconcile"
)

type Options struct {
	HTTPClient     *http.Client
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	WriteTimeout   time.Duration
	ExpireInterval time.Duration
	ReadLimit      int64
}

func DefaultOptions() Options {
	return Options{
		BackoffBase:    250 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		WriteTimeout:   5 * time.Second,
		ExpireInterval: time.Second,
		ReadLimit:      1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ExpireInterval <= 0 {
		o.ExpireInterval = d.ExpireInterval
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	return o
}

type Session struct {
	baseURL string
	rec     *reconcile.Reconciler
	view    *HTTPView
	opts    Options
	logger  zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	connects atomic.Int64
	gone     atomic.Bool

	Now    func() time.Time
	Jitter func(d time.Duration) time.Duration
}

// New builds a session for rec's board against the server at baseURL.
func New(baseURL string, rec *reconcile.Reconciler, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		rec:     rec,
		view:    NewHTTPView(baseURL, opts.HTTPClient),
		opts:    opts,
		logger:  log.With().Str("board_id", rec.BoardID().String()).Logger(),
		Now:     func() time.Time { return time.Now().UTC() },
		Jitter:  func(d time.Duration) time.Duration { return d/2 + rand.N(d/2+1) },
	}
}

func (s *Session) Reconciler() *reconcile.Reconciler { return s.rec }

// Connected reports whether the session is synced and reading broadcasts.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connects counts successful syncs, the first connect included.
func (s *Session) Connects() int64 { return s.connects.Load() }

// Run connects and keeps reconnecting until ctx ends or the board is
// deleted. It returns nil on cancellation and an ErrNotFound error when the
// board is gone.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.expireLoop(gctx)
		return nil
	})
	g.Go(func() error {
		return s.connectLoop(gctx)
	})
	return g.Wait()
}

func (s *Session) connectLoop(ctx context.Context) error {
	attempt := 0
	for {
		err := s.connectOnce(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info().Err(err).Msg("wsclient: board gone, stopping")
			return err
		}

		delay := s.backoff(attempt)
		attempt++
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("wsclient: disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// backoff is BackoffBase doubled per attempt, capped at BackoffMax, then
// jittered.
func (s *Session) backoff(attempt int) time.Duration {
	d := s.opts.BackoffMax
	if attempt < 32 {
		if exp := s.opts.BackoffBase << attempt; exp > 0 && exp < d {
			d = exp
		}
	}
	return s.Jitter(d)
}

func (s *Session) connectOnce(ctx context.Context, synced func()) error {
	boardID := s.rec.BoardID()
	conn, resp, err := websocket.Dial(ctx, s.wsURL(boardID), &websocket.DialOptions{
		HTTPClient: s.opts.HTTPClient,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("wsclient: board %s: %w", boardID, domain.ErrNotFound)
		}
		return fmt.Errorf("wsclient: dial: %w: %w", domain.ErrConnection, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.opts.ReadLimit)

	// Frames queue on the socket until the snapshot is loaded; replaying
	// them afterwards is idempotent.
	outcomes, err := s.rec.Recover(ctx, s.view)
	if err != nil {
		s.logger.Warn().Err(err).Msg("wsclient: some pending moves are unresolved")
	}
	for _, o := range outcomes {
		s.logger.Debug().Str("ticket_id", o.TicketID.String()).Str("outcome", string(o.Kind)).Msg("wsclient: pending move settled")
	}

	tickets, err := s.view.Tickets(ctx, boardID)
	if err != nil {
		return fmt.Errorf("wsclient: snapshot: %w", err)
	}
	s.rec.Load(tickets)

	s.setConn(conn)
	defer s.setConn(nil)
	s.connects.Add(1)
	synced()
	s.logger.Info().Int("tickets", len(tickets)).Msg("wsclient: synced")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if s.gone.Load() {
				return fmt.Errorf("wsclient: board %s deleted: %w", boardID, domain.ErrNotFound)
			}
			return fmt.Errorf("wsclient: read: %w: %w", domain.ErrConnection, err)
		}
		if err := s.handle(data); err != nil {
			s.logger.Warn().Err(err).Msg("wsclient: frame dropped")
		}
	}
}

func (s *Session) handle(data []byte) error {
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch env.Event {
	case ws.EventSubscribed, ws.EventPong:

	case ws.EventMoveAck:
		var res domain.MoveResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return fmt.Errorf("decode move_ack: %w", err)
		}
		if res.Delta != nil {
			s.rec.Confirm(res.Delta.TicketID, res.Delta.RequestID)
		}

	case ws.EventMoveRejected:
		var p ws.MoveRejectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode move_rejected: %w", err)
		}
		s.rec.Reject(p.TicketID, p.RequestID, fmt.Errorf("%s: %w", p.Error, ws.ErrorForCode(p.Code)))

	case ws.EventError:
		var p ws.ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		s.logger.Warn().Str("code", p.Code).Str("message", p.Message).Msg("wsclient: server error")

	default:
		ev := env.BoardEvent()
		if ev.Type == domain.EventBoardDeleted {
			s.gone.Store(true)
		}
		return s.rec.HandleEvent(ev)
	}
	return nil
}

// Move applies the move locally and sends it. When the send fails the move
// stays pending and is settled by Recover on reconnect or by the pending
// timeout, whichever comes first; the error wraps ErrConnection.
func (s *Session) Move(ctx context.Context, ticketID uuid.UUID, to string) (string, error) {
	requestID, err := s.rec.BeginMove(ticketID, to)
	if err != nil {
		return "", fmt.Errorf("wsclient.Move: %w", err)
	}

	conn := s.currentConn()
	if conn == nil {
		return requestID, fmt.Errorf("wsclient.Move: not connected: %w", domain.ErrConnection)
	}

	payload, err := json.Marshal(ws.MovePayload{TicketID: ticketID, ToColumn: to, RequestID: requestID})
	if err != nil {
		return requestID, fmt.Errorf("wsclient.Move: %w", err)
	}
	frame, err := json.Marshal(ws.Envelope{
		Event:     ws.EventMove,
		BoardID:   s.rec.BoardID(),
		TicketID:  ticketID,
		Data:      payload,
		Timestamp: s.Now(),
	})
	if err != nil {
		return requestID, fmt.Errorf("wsclient.Move: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		return requestID, fmt.Errorf("wsclient.Move: %w: %w", domain.ErrConnection, err)
	}
	return requestID, nil
}

func (s *Session) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.rec.ExpirePending(s.rec.Now()); n > 0 {
				s.logger.Info().Int("expired", n).Msg("wsclient: pending moves timed out")
			}
		}
	}
}

func (s *Session) wsURL(boardID uuid.UUID) string {
	u := s.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/boards/" + boardID.String()
}

func (s *Session) setConn(c *websocket.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
