package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

type subscriber struct {
	connID string
	actor  *boardActor
	sender Sender

	// outbox is written and closed only by the actor goroutine.
	outbox       chan domain.BoardEvent
	outboxClosed bool

	// sendStarted is the UnixNano start of the Send in flight, or 0.
	sendStarted atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// offer hands ev to the writer. A full outbox is waited on for as long as the
// send in flight has write budget left; offer reports false once that budget
// is spent. It must only be called from the actor goroutine.
func (s *subscriber) offer(h *Hub, ev domain.BoardEvent) bool {
	if s.outboxClosed {
		return true
	}
	select {
	case s.outbox <- ev:
		return true
	default:
	}

	budget := h.opts.WriteTimeout
	if started := s.sendStarted.Load(); started != 0 {
		budget -= time.Since(time.Unix(0, started))
	}
	if budget <= 0 {
		return false
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case s.outbox <- ev:
		return true
	case <-timer.C:
		return false
	case <-s.stop:
		return true
	case <-s.actor.quit:
		return true
	case <-h.ctx.Done():
		return true
	}
}

// closeOutbox must only be called from the actor goroutine.
func (s *subscriber) closeOutbox() {
	if !s.outboxClosed {
		s.outboxClosed = true
		close(s.outbox)
	}
}

func (s *subscriber) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscriber) write(h *Hub) {
	for {
		select {
		case <-s.stop:
			return
		case <-h.ctx.Done():
			return
		case ev, ok := <-s.outbox:
			if !ok {
				s.halt()
				s.sender.Close(ErrBoardDeleted)
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, h.opts.WriteTimeout)
			s.sendStarted.Store(time.Now().UnixNano())
			err := s.sender.Send(ctx, ev)
			s.sendStarted.Store(0)
			cancel()
			if err != nil {
				if !h.evict(s, err) {
					select {
					case <-s.stop:
					default:
						s.halt()
						s.sender.Close(err)
					}
				}
				return
			}
			log.Trace().Str("conn_id", s.connID).Str("event", string(ev.Type)).Msg("hub: delivered")
		}
	}
}
