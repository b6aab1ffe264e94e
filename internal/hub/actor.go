package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

var errOutboxFull = errors.New("outbox full")

type item struct {
	ev   domain.BoardEvent
	drop bool
}

// boardActor serializes every event for one board. The queue is unbounded so
// publishers never block. Fan-out waits on a full outbox at most for the
// remaining write budget of that subscriber's send in flight.
type boardActor struct {
	id uuid.UUID

	mu    sync.Mutex
	subs  map[string]*subscriber
	queue []item

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func newBoardActor(id uuid.UUID) *boardActor {
	return &boardActor{
		id:   id,
		subs: make(map[string]*subscriber),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (a *boardActor) enqueue(it item) {
	a.mu.Lock()
	a.queue = append(a.queue, it)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *boardActor) shutdown() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *boardActor) run(h *Hub) {
	for {
		select {
		case <-a.quit:
			return
		case <-a.wake:
		}

		for {
			it, ok := a.next()
			if !ok {
				break
			}
			if it.drop {
				a.drain()
				a.shutdown()
				return
			}
			a.fanOut(h, it.ev)
		}
	}
}

func (a *boardActor) next() (item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.queue) == 0 {
		return item{}, false
	}
	it := a.queue[0]
	a.queue[0] = item{}
	a.queue = a.queue[1:]
	return it, true
}

func (a *boardActor) fanOut(h *Hub, ev domain.BoardEvent) {
	a.mu.Lock()
	subs := make([]*subscriber, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	a.mu.Unlock()

	for _, sub := range subs {
		if !sub.offer(h, ev) {
			h.evict(sub, errOutboxFull)
		}
	}
}

// drain closes every outbox so writers flush what is queued, then close
// their connections.
func (a *boardActor) drain() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, sub := range a.subs {
		sub.closeOutbox()
		delete(a.subs, id)
	}
}
