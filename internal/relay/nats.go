package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

const natsSubjectPrefix = "kanban.board."

// ConnectNATS dials url, retrying until timeout elapses.
func ConnectNATS(url string, timeout time.Duration) (*nats.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		conn, err := nats.Connect(url, nats.Name("kanbansync"))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("relay.ConnectNATS: timeout after %s: %w", timeout, lastErr)
}

// NATS relays events over core NATS subjects, one subject per board.
type NATS struct {
	conn *nats.Conn
	sink Sink
}

func NewNATS(conn *nats.Conn, sink Sink) *NATS {
	return &NATS{conn: conn, sink: sink}
}

func (n *NATS) Publish(_ context.Context, ev domain.BoardEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("relay.NATS.Publish: %w", err)
	}
	if err := n.conn.Publish(BoardSubject(ev.BoardID), payload); err != nil {
		return fmt.Errorf("relay.NATS.Publish: %w", err)
	}
	return nil
}

func (n *NATS) Run(ctx context.Context) error {
	raw := make(chan *nats.Msg, 256)
	sub, err := n.conn.ChanSubscribe(natsSubjectPrefix+"*", raw)
	if err != nil {
		return fmt.Errorf("relay.NATS.Run: subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-raw:
				if _, ok := boardIDFromSubject(msg.Subject, natsSubjectPrefix); !ok {
					log.Warn().Str("subject", msg.Subject).Msg("relay: unexpected nats subject")
					continue
				}
				select {
				case msgs <- msg.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return pump(ctx, msgs, n.sink, "nats")
}

func (n *NATS) Ping(context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("relay.NATS.Ping: status %s: %w", n.conn.Status(), domain.ErrConnection)
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("relay.NATS.Close: %w", err)
	}
	return nil
}

// BoardSubject returns the NATS subject for a board.
func BoardSubject(boardID uuid.UUID) string {
	return natsSubjectPrefix + boardID.String()
}
