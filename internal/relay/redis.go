package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

const boardChannelPrefix = "board:"

// DialRedis opens a client and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay.DialRedis: ping: %w", err)
	}

	return client, nil
}

// Redis relays events over Redis pub/sub, one channel per board.
type Redis struct {
	client *redis.Client
	sink   Sink
}

func NewRedis(client *redis.Client, sink Sink) *Redis {
	return &Redis{client: client, sink: sink}
}

func (r *Redis) Publish(ctx context.Context, ev domain.BoardEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("relay.Redis.Publish: %w", err)
	}
	if err := r.client.Publish(ctx, BoardChannel(ev.BoardID), payload).Err(); err != nil {
		return fmt.Errorf("relay.Redis.Publish: %w", err)
	}
	return nil
}

// Subscribe listens on every board channel. The returned channel is closed
// when ctx ends or the subscription drops.
func (r *Redis) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	sub := r.client.PSubscribe(ctx, boardChannelPrefix+"*")

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("relay.Redis.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

func (r *Redis) Run(ctx context.Context) error {
	msgs, cleanup, err := r.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("relay.Redis.Run: %w", err)
	}
	defer cleanup()

	return pump(ctx, msgs, r.sink, "redis")
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("relay.Redis.Ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("relay.Redis.Close: %w", err)
	}
	return nil
}

// BoardChannel returns the Redis channel name for a board.
func BoardChannel(boardID uuid.UUID) string {
	return boardChannelPrefix + boardID.String()
}

// pump decodes payloads and hands them to the sink in arrival order.
func pump(ctx context.Context, msgs <-chan []byte, sink Sink, transport string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay: %s subscription closed: %w", transport, domain.ErrConnection)
			}
			ev, err := decodeEvent(payload)
			if err != nil {
				log.Warn().Err(err).Str("transport", transport).Msg("relay: dropping malformed event")
				continue
			}
			if err := sink.Publish(ctx, ev.BoardID, ev); err != nil {
				log.Warn().Err(err).
					Str("transport", transport).
					Str("board_id", ev.BoardID.String()).
					Msg("relay: sink rejected event")
			}
		}
	}
}

func boardIDFromSubject(subject, prefix string) (uuid.UUID, bool) {
	id, ok := strings.CutPrefix(subject, prefix)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}
