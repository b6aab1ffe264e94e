package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/kanbansync/internal/api/ws"
	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/hub"
	"github.com/gosuda/kanbansync/internal/move"
	"github.com/gosuda/kanbansync/internal/relay"
	"github.com/gosuda/kanbansync/internal/store/memory"
)

type testEnv struct {
	server *httptest.Server
	hub    *hub.Hub
	coord  *move.Coordinator
	board  *domain.Board
	ticket *domain.Ticket
}

func setup(t *testing.T, opts ws.Options) *testEnv {
	t.Helper()

	store := memory.New()
	h := hub.New(hub.Options{})
	t.Cleanup(h.Close)
	coord := move.NewCoordinator(store, relay.NewLocal(h), nil, nil)

	ctx := context.Background()
	b, err := coord.CreateBoard(ctx, "Sprint 1", []string{"To Do", "In Progress", "Done"})
	require.NoError(t, err)
	tk, err := coord.CreateTicket(ctx, b.ID, move.CreateTicketInput{Title: "Fix login bug"})
	require.NoError(t, err)

	handler := ws.NewHandler(h, coord, store.Boards(), opts)
	r := chi.NewRouter()
	r.Get("/ws/boards/{boardID}", handler.ServeBoard)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, hub: h, coord: coord, board: b, ticket: tk}
}

func (e *testEnv) url(boardID string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/boards/" + boardID
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	c := &client{t: t, conn: conn}
	require.Equal(t, ws.EventSubscribed, c.read().Event)
	return c
}

func (c *client) send(env ws.Envelope) {
	c.t.Helper()
	b, err := json.Marshal(env)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, b))
}

func (c *client) read() ws.Envelope {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var env ws.Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	return env
}

// readUntil skips frames until one with the given event arrives.
func (c *client) readUntil(event string) ws.Envelope {
	c.t.Helper()
	for range 10 {
		env := c.read()
		if env.Event == event {
			return env
		}
	}
	c.t.Fatalf("no %s frame", event)
	return ws.Envelope{}
}

func (c *client) expectSilence() {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err == nil {
		c.t.Fatalf("unexpected frame %s", data)
	}
}

func moveFrame(t *testing.T, ticketID uuid.UUID, to, requestID string) ws.Envelope {
	t.Helper()
	data, err := json.Marshal(ws.MovePayload{TicketID: ticketID, ToColumn: to, RequestID: requestID})
	require.NoError(t, err)
	return ws.Envelope{Event: ws.EventMove, Data: data}
}

func TestMoveOverWebSocketBroadcastsToBoard(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	other, err := env.coord.CreateBoard(context.Background(), "Ops", []string{"Open", "Closed"})
	require.NoError(t, err)

	mover := dial(t, env.url(env.board.ID.String()))
	watcher := dial(t, env.url(env.board.ID.String()))
	bystander := dial(t, env.url(other.ID.String()))

	mover.send(moveFrame(t, env.ticket.ID, "In Progress", "req-1"))

	moved := watcher.read()
	assert.Equal(t, string(domain.EventTicketMoved), moved.Event)
	assert.Equal(t, env.board.ID, moved.BoardID)
	assert.Equal(t, env.ticket.ID, moved.TicketID)

	var delta domain.MoveDelta
	require.NoError(t, json.Unmarshal(moved.Data, &delta))
	assert.Equal(t, "To Do", delta.FromColumn)
	assert.Equal(t, "In Progress", delta.ToColumn)
	assert.Equal(t, "req-1", delta.RequestID)

	ack := mover.readUntil(ws.EventMoveAck)
	var res domain.MoveResult
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.True(t, res.OK)

	bystander.expectSilence()
}

func TestMoveDroppedOntoCardOverWebSocket(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	target, err := env.coord.CreateTicket(context.Background(), env.board.ID, move.CreateTicketInput{Title: "Review", Column: "Done"})
	require.NoError(t, err)

	c := dial(t, env.url(env.board.ID.String()))
	data, err := json.Marshal(ws.MovePayload{TicketID: env.ticket.ID, OverTicketID: target.ID, RequestID: "req-3"})
	require.NoError(t, err)
	c.send(ws.Envelope{Event: ws.EventMove, Data: data})

	ack := c.readUntil(ws.EventMoveAck)
	var res domain.MoveResult
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.True(t, res.OK)
	assert.Equal(t, "To Do", res.FromColumn)
	assert.Equal(t, "Done", res.ToColumn)
}

func TestMoveRejectedGoesOnlyToSender(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	mover := dial(t, env.url(env.board.ID.String()))
	watcher := dial(t, env.url(env.board.ID.String()))

	mover.send(moveFrame(t, env.ticket.ID, "Archived", "req-2"))

	rejected := mover.read()
	require.Equal(t, ws.EventMoveRejected, rejected.Event)
	var p ws.MoveRejectedPayload
	require.NoError(t, json.Unmarshal(rejected.Data, &p))
	assert.Equal(t, "invalid_column", p.Code)
	assert.Equal(t, "req-2", p.RequestID)
	assert.ErrorIs(t, ws.ErrorForCode(p.Code), domain.ErrInvalidColumn)

	watcher.expectSilence()
}

func TestPingPong(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	c := dial(t, env.url(env.board.ID.String()))
	c.send(ws.Envelope{Event: ws.EventPing})
	assert.Equal(t, ws.EventPong, c.read().Event)

	c.send(ws.Envelope{Event: "teleport"})
	assert.Equal(t, ws.EventError, c.read().Event)
}

func TestSubscribeSwitchesBoard(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	other, err := env.coord.CreateBoard(context.Background(), "Ops", []string{"Open", "Closed"})
	require.NoError(t, err)

	c := dial(t, env.url(env.board.ID.String()))
	c.send(ws.Envelope{Event: ws.EventSubscribe, BoardID: other.ID})
	sub := c.read()
	require.Equal(t, ws.EventSubscribed, sub.Event)
	assert.Equal(t, other.ID, sub.BoardID)

	assert.Equal(t, 0, env.hub.Subscribers(env.board.ID))
	assert.Equal(t, 1, env.hub.Subscribers(other.ID))

	c.send(ws.Envelope{Event: ws.EventSubscribe, BoardID: uuid.New()})
	errFrame := c.read()
	require.Equal(t, ws.EventError, errFrame.Event)
	assert.Equal(t, 1, env.hub.Subscribers(other.ID))
}

func TestServeBoardRejectsBadBoards(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"malformed id", "not-a-uuid", http.StatusBadRequest},
		{"unknown board", uuid.New().String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, env.url(tt.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestBoardDeletionClosesConnections(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	c := dial(t, env.url(env.board.ID.String()))

	require.NoError(t, env.coord.DeleteBoard(context.Background(), env.board.ID))

	deleted := c.read()
	assert.Equal(t, string(domain.EventBoardDeleted), deleted.Event)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHubCloseSendsGoingAway(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{})
	c := dial(t, env.url(env.board.ID.String()))

	env.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.conn.Read(ctx)
	require.Error(t, err)
	var ce websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.StatusGoingAway, ce.Code)
	assert.Equal(t, "server shutting down", ce.Reason)
}

func TestUnresponsiveClientIsDropped(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    20 * time.Millisecond,
		MaxMissedPongs: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, env.url(env.board.ID.String()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool {
		return env.hub.Subscribers(env.board.ID) == 1
	}, time.Second, 5*time.Millisecond)

	// The client never reads, so server pings go unanswered.
	require.Eventually(t, func() bool {
		return env.hub.Subscribers(env.board.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundRateLimit(t *testing.T) {
	t.Parallel()

	env := setup(t, ws.Options{MessagesPerSecond: 0.001, Burst: 1})
	c := dial(t, env.url(env.board.ID.String()))

	c.send(ws.Envelope{Event: ws.EventPing})
	assert.Equal(t, ws.EventPong, c.read().Event)

	c.send(ws.Envelope{Event: ws.EventPing})
	limited := c.read()
	require.Equal(t, ws.EventError, limited.Event)
	var p ws.ErrorPayload
	require.NoError(t, json.Unmarshal(limited.Data, &p))
	assert.Equal(t, "rate_limited", p.Code)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	boardID, ticketID := uuid.New(), uuid.New()
	ev := domain.NewBoardEvent(domain.EventTicketMoved, boardID, ticketID, domain.MoveDelta{
		TicketID: ticketID, BoardID: boardID, FromColumn: "To Do", ToColumn: "Done",
	})
	env, err := ws.EnvelopeFor(ev)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "event")
	assert.Contains(t, fields, "board_id")
	assert.Contains(t, fields, "data")

	back := env.BoardEvent()
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, boardID, back.BoardID)
	assert.Equal(t, ticketID, back.TicketID)
}
