// Package move owns every state mutation that subscribers must observe. A
// change is committed to the store first and broadcast only after the commit
// succeeds.
package move

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Publisher carries board events to subscribers. The relay buses satisfy it.
type Publisher interface {
	Publish(ctx context.Context, ev domain.BoardEvent) error
}

// Classifier recomputes and publishes a board's classifications.
type Classifier interface {
	PublishBoard(ctx context.Context, boardID uuid.UUID) error
}

type Request struct {
	TicketID uuid.UUID `json:"ticket_id"`
	ToColumn string    `json:"to_column"`
	// OverTicketID is the card the ticket was dropped onto, if any. Its
	// column wins over ToColumn.
	OverTicketID uuid.UUID `json:"over_ticket_id,omitempty"`
	// RequestID makes retries idempotent when set.
	RequestID string `json:"request_id,omitempty"`
}

type Coordinator struct {
	store      domain.Store
	bus        Publisher
	classifier Classifier
	dedupe     Deduper

	Now func() time.Time
}

// NewCoordinator wires the coordinator. classifier and dedupe may be nil.
func NewCoordinator(store domain.Store, bus Publisher, classifier Classifier, dedupe Deduper) *Coordinator {
	return &Coordinator{
		store:      store,
		bus:        bus,
		classifier: classifier,
		dedupe:     dedupe,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Move relocates a ticket to req.ToColumn, or to the column of the card it
// was dropped onto. On failure the ticket is unchanged, nothing is broadcast
// and the result carries OK=false alongside the typed error. Concurrent calls
// sharing a RequestID apply the move once; the others get the same result.
func (c *Coordinator) Move(ctx context.Context, req Request) (domain.MoveResult, error) {
	req.ToColumn = strings.TrimSpace(req.ToColumn)

	if req.RequestID == "" || c.dedupe == nil {
		return c.apply(ctx, req)
	}

	prev, done, err := c.dedupe.Claim(ctx, req.RequestID)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("move: dedupe claim failed")
		return c.apply(ctx, req)
	case done:
		log.Debug().Str("request_id", req.RequestID).Msg("move: replaying stored result")
		return prev, nil
	}

	res, err := c.apply(ctx, req)

	// The claim must end even when the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := c.dedupe.Release(settleCtx, req.RequestID); relErr != nil {
			log.Warn().Err(relErr).Str("request_id", req.RequestID).Msg("move: dedupe release failed")
		}
		return res, err
	}
	if compErr := c.dedupe.Complete(settleCtx, req.RequestID, res); compErr != nil {
		log.Warn().Err(compErr).Str("request_id", req.RequestID).Msg("move: dedupe store failed")
	}
	return res, nil
}

func (c *Coordinator) apply(ctx context.Context, req Request) (domain.MoveResult, error) {
	t, err := c.store.Tickets().GetByID(ctx, req.TicketID)
	if err != nil {
		return failed(fmt.Errorf("move.Move: %w", err))
	}
	b, err := c.store.Boards().GetByID(ctx, t.BoardID)
	if err != nil {
		return failed(fmt.Errorf("move.Move: board: %w", err))
	}

	to := req.ToColumn
	if req.OverTicketID != uuid.Nil {
		over, err := c.store.Tickets().GetByID(ctx, req.OverTicketID)
		if err != nil {
			return failed(fmt.Errorf("move.Move: drop target: %w", err))
		}
		if to, err = ResolveDropTarget(b, DropTarget{Column: to, Over: over}); err != nil {
			return failed(fmt.Errorf("move.Move: %w", err))
		}
	} else if err := b.ValidateColumn(to); err != nil {
		return failed(fmt.Errorf("move.Move: %w", err))
	}

	at := c.Now()
	from, err := c.store.Tickets().ApplyMove(ctx, t.ID, to, at)
	if err != nil {
		return failed(fmt.Errorf("move.Move: %w", err))
	}

	delta := domain.MoveDelta{
		TicketID:   t.ID,
		BoardID:    t.BoardID,
		FromColumn: from,
		ToColumn:   to,
		MovedAt:    at,
		RequestID:  req.RequestID,
	}
	res := domain.MoveResult{
		OK:         true,
		FromColumn: from,
		ToColumn:   to,
		Delta:      &delta,
	}

	if err := c.store.History().Append(ctx, domain.NewMoveRecord(delta)); err != nil {
		log.Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("move: history append failed")
	}

	c.publish(ctx, domain.NewBoardEvent(domain.EventTicketMoved, t.BoardID, t.ID, delta))
	c.reclassify(ctx, t.BoardID)

	log.Info().
		Str("board_id", t.BoardID.String()).
		Str("ticket_id", t.ID.String()).
		Str("from", from).
		Str("to", to).
		Bool("self_move", delta.SelfMove()).
		Msg("ticket moved")

	return res, nil
}

func failed(err error) (domain.MoveResult, error) {
	return domain.MoveResult{OK: false, Error: err.Error()}, err
}

// publish logs bus failures; the committed state is authoritative and
// clients resynchronize on reconnect.
func (c *Coordinator) publish(ctx context.Context, ev domain.BoardEvent) {
	if err := c.bus.Publish(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("board_id", ev.BoardID.String()).
			Str("event", string(ev.Type)).
			Msg("move: publish failed")
	}
}

func (c *Coordinator) reclassify(ctx context.Context, boardID uuid.UUID) {
	if c.classifier == nil {
		return
	}
	if err := c.classifier.PublishBoard(ctx, boardID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("board_id", boardID.String()).Msg("move: reclassify failed")
	}
}
