package dwell

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

// LocalHub is this instance's own fan-out: the boards it has subscribers for
// and direct delivery to them.
type LocalHub interface {
	Boards() []uuid.UUID
	Publish(ctx context.Context, boardID uuid.UUID, ev domain.BoardEvent) error
}

// Publisher carries classification events to subscribers on every instance.
type Publisher interface {
	Publish(ctx context.Context, ev domain.BoardEvent) error
}

// Engine recomputes classifications from fresh store snapshots. It keeps
// nothing between cycles.
type Engine struct {
	store    domain.Store
	local    LocalHub
	bus      Publisher
	opts     Options
	interval time.Duration

	Now func() time.Time
}

func NewEngine(store domain.Store, local LocalHub, bus Publisher, opts Options, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		store:    store,
		local:    local,
		bus:      bus,
		opts:     opts.withDefaults(),
		interval: interval,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// ClassifyBoard reads the board and its tickets and classifies them.
func (e *Engine) ClassifyBoard(ctx context.Context, boardID uuid.UUID) (Result, error) {
	b, err := e.store.Boards().GetByID(ctx, boardID)
	if err != nil {
		return Result{}, fmt.Errorf("dwell.ClassifyBoard: %w", err)
	}
	tickets, err := e.store.Tickets().ListByBoard(ctx, boardID)
	if err != nil {
		return Result{}, fmt.Errorf("dwell.ClassifyBoard: %w", err)
	}
	return Classify(b, tickets, e.Now(), e.opts), nil
}

// PublishBoard classifies boardID and publishes one classification event on
// the bus, reaching every instance. The move path uses it.
func (e *Engine) PublishBoard(ctx context.Context, boardID uuid.UUID) error {
	ev, err := e.classification(ctx, boardID)
	if err != nil {
		return err
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("dwell.PublishBoard: %w", err)
	}
	return nil
}

// Tick classifies every board this instance has subscribers for and
// delivers the result to them directly. Each instance runs its own cycle,
// so nothing goes over the bus. A failing board is logged and skipped.
func (e *Engine) Tick(ctx context.Context) {
	for _, boardID := range e.local.Boards() {
		if ctx.Err() != nil {
			return
		}
		ev, err := e.classification(ctx, boardID)
		if err == nil {
			err = e.local.Publish(ctx, boardID, ev)
		}
		if err != nil {
			log.Warn().Err(err).Str("board_id", boardID.String()).Msg("dwell: classification cycle failed")
		}
	}
}

func (e *Engine) classification(ctx context.Context, boardID uuid.UUID) (domain.BoardEvent, error) {
	res, err := e.ClassifyBoard(ctx, boardID)
	if err != nil {
		return domain.BoardEvent{}, err
	}
	return domain.NewBoardEvent(domain.EventClassification, boardID, uuid.Nil, res), nil
}

// Run ticks every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", e.interval).Msg("dwell engine started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}
