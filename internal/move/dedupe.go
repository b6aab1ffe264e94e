package move

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Deduper makes moves carrying a client request id apply at most once.
//
// Claim reserves requestID for the caller. If an earlier call already
// completed it, Claim returns that result with done set. If another call
// holds the claim, Claim waits until it completes or releases. The holder of
// a claim must end it with Complete on success or Release on failure.
type Deduper interface {
	Claim(ctx context.Context, requestID string) (res domain.MoveResult, done bool, err error)
	Complete(ctx context.Context, requestID string, res domain.MoveResult) error
	Release(ctx context.Context, requestID string) error
}

const (
	dedupeKeyPrefix = "move:req:"
	claimMarker     = "~claimed"
)

// RedisDeduper shares claims across instances. A claim is a marker value
// written with SET NX; completion overwrites it with the JSON result.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration

	// Lease bounds how long a claim survives a holder that never ends it.
	Lease time.Duration
	// Poll is how often a waiting Claim re-reads the key.
	Poll time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		ttl:    ttl,
		Lease:  30 * time.Second,
		Poll:   20 * time.Millisecond,
	}
}

func (d *RedisDeduper) Claim(ctx context.Context, requestID string) (domain.MoveResult, bool, error) {
	key := dedupeKeyPrefix + requestID

	var ticker *time.Ticker
	for {
		ok, err := d.client.SetNX(ctx, key, claimMarker, d.Lease).Result()
		if err != nil {
			return domain.MoveResult{}, false, fmt.Errorf("move.RedisDeduper.Claim: %w", err)
		}
		if ok {
			return domain.MoveResult{}, false, nil
		}

		raw, err := d.client.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// Released between SETNX and GET.
			continue
		case err != nil:
			return domain.MoveResult{}, false, fmt.Errorf("move.RedisDeduper.Claim: %w", err)
		case string(raw) != claimMarker:
			var res domain.MoveResult
			if err := json.Unmarshal(raw, &res); err != nil {
				return domain.MoveResult{}, false, fmt.Errorf("move.RedisDeduper.Claim: decode: %w", err)
			}
			return res, true, nil
		}

		if ticker == nil {
			ticker = time.NewTicker(d.Poll)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return domain.MoveResult{}, false, fmt.Errorf("move.RedisDeduper.Claim: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *RedisDeduper) Complete(ctx context.Context, requestID string, res domain.MoveResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("move.RedisDeduper.Complete: encode: %w", err)
	}
	if err := d.client.Set(ctx, dedupeKeyPrefix+requestID, raw, d.ttl).Err(); err != nil {
		return fmt.Errorf("move.RedisDeduper.Complete: %w", err)
	}
	return nil
}

func (d *RedisDeduper) Release(ctx context.Context, requestID string) error {
	if err := d.client.Del(ctx, dedupeKeyPrefix+requestID).Err(); err != nil {
		return fmt.Errorf("move.RedisDeduper.Release: %w", err)
	}
	return nil
}

type memoryEntry struct {
	res     domain.MoveResult
	settled chan struct{}
	done    bool
	expires time.Time
}

// MemoryDeduper is the single-instance Deduper.
type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration

	Now func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		Now:     time.Now,
	}
}

func (d *MemoryDeduper) Claim(ctx context.Context, requestID string) (domain.MoveResult, bool, error) {
	for {
		d.mu.Lock()
		d.pruneLocked()
		e, ok := d.entries[requestID]
		if !ok {
			d.entries[requestID] = &memoryEntry{settled: make(chan struct{})}
			d.mu.Unlock()
			return domain.MoveResult{}, false, nil
		}
		if e.done {
			d.mu.Unlock()
			return e.res, true, nil
		}
		settled := e.settled
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.MoveResult{}, false, fmt.Errorf("move.MemoryDeduper.Claim: %w", ctx.Err())
		case <-settled:
		}
	}
}

func (d *MemoryDeduper) Complete(_ context.Context, requestID string, res domain.MoveResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[requestID]
	if !ok {
		e = &memoryEntry{settled: make(chan struct{})}
		d.entries[requestID] = e
	}
	if e.done {
		return nil
	}
	e.res = res
	e.done = true
	e.expires = d.Now().Add(d.ttl)
	close(e.settled)
	return nil
}

func (d *MemoryDeduper) Release(_ context.Context, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[requestID]; ok && !e.done {
		delete(d.entries, requestID)
		close(e.settled)
	}
	return nil
}

// pruneLocked drops expired results. Open claims never expire here.
func (d *MemoryDeduper) pruneLocked() {
	if d.ttl <= 0 {
		return
	}
	now := d.Now()
	for id, e := range d.entries {
		if e.done && now.After(e.expires) {
			delete(d.entries, id)
		}
	}
}
