package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/kanbansync/internal/domain"
)

// DefaultPendingTimeout bounds how long a move may wait for its verdict.
const DefaultPendingTimeout = 10 * time.Second

// ServerView answers where the server currently has a ticket.
type ServerView interface {
	TicketColumn(ctx context.Context, ticketID uuid.UUID) (string, error)
}

type Reconciler struct {
	boardID uuid.UUID
	journal Journal

	mu     sync.Mutex
	states map[uuid.UUID]TicketState

	notices chan Notice

	Now            func() time.Time
	NewRequestID   func() string
	PendingTimeout time.Duration
}

func New(boardID uuid.UUID, journal Journal) *Reconciler {
	return &Reconciler{
		boardID:        boardID,
		journal:        journal,
		states:         make(map[uuid.UUID]TicketState),
		notices:        make(chan Notice, 64),
		Now:            func() time.Time { return time.Now().UTC() },
		NewRequestID:   nuid.Next,
		PendingTimeout: DefaultPendingTimeout,
	}
}

// Notices delivers divergence notices. When nobody drains it, the oldest
// notices are dropped.
func (r *Reconciler) Notices() <-chan Notice {
	return r.notices
}

func (r *Reconciler) BoardID() uuid.UUID {
	return r.boardID
}

// Load replaces the confirmed view with a server snapshot. Tickets with a
// pending move keep it; Recover settles those.
func (r *Reconciler) Load(tickets []*domain.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[uuid.UUID]TicketState, len(tickets))
	for _, t := range tickets {
		if t.BoardID != r.boardID {
			continue
		}
		if p, ok := r.states[t.ID].(Pending); ok {
			next[t.ID] = p
			continue
		}
		next[t.ID] = Confirmed{Column: t.Column}
	}
	r.states = next
}

func (r *Reconciler) State(ticketID uuid.UUID) (TicketState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[ticketID]
	return s, ok
}

// View returns the displayed column of every known ticket.
func (r *Reconciler) View() map[uuid.UUID]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uuid.UUID]string, len(r.states))
	for id, s := range r.states {
		out[id] = s.Displayed()
	}
	return out
}

// BeginMove applies a move optimistically. The pending entry is journaled
// before the local view changes; the returned request id goes to the server.
func (r *Reconciler) BeginMove(ticketID uuid.UUID, to string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[ticketID]
	if !ok {
		return "", fmt.Errorf("reconcile.BeginMove: %w", domain.ErrNotFound)
	}
	if _, busy := s.(Pending); busy {
		return "", fmt.Errorf("reconcile.BeginMove: move already in flight: %w", domain.ErrValidation)
	}

	p := Pending{
		From:      s.Displayed(),
		To:        to,
		RequestID: r.NewRequestID(),
		IssuedAt:  r.Now(),
	}
	err := r.journal.Put(Entry{
		BoardID:   r.boardID,
		TicketID:  ticketID,
		From:      p.From,
		To:        p.To,
		RequestID: p.RequestID,
		IssuedAt:  p.IssuedAt,
	})
	if err != nil {
		return "", fmt.Errorf("reconcile.BeginMove: %w", err)
	}

	r.states[ticketID] = p
	return p.RequestID, nil
}

// Confirm settles a pending move after the server's direct success reply.
func (r *Reconciler) Confirm(ticketID uuid.UUID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.states[ticketID].(Pending)
	if !ok || p.RequestID != requestID {
		return
	}
	r.settleLocked(ticketID, Confirmed{Column: p.To})
}

// Reject rolls a pending move back after the server refused it.
func (r *Reconciler) Reject(ticketID uuid.UUID, requestID string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.states[ticketID].(Pending)
	if !ok || p.RequestID != requestID {
		return
	}
	r.settleLocked(ticketID, Confirmed{Column: p.From})
	r.noticeLocked(Notice{
		TicketID: ticketID,
		Err:      cause,
		Message:  fmt.Sprintf("move to %q was rejected; restored to %q", p.To, p.From),
	})
}

// ExpirePending rolls back every pending move older than PendingTimeout.
func (r *Reconciler) ExpirePending(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, s := range r.states {
		p, ok := s.(Pending)
		if !ok || now.Sub(p.IssuedAt) < r.PendingTimeout {
			continue
		}
		r.settleLocked(id, Confirmed{Column: p.From})
		r.noticeLocked(Notice{
			TicketID: id,
			Err:      fmt.Errorf("no reply after %s: %w", r.PendingTimeout, domain.ErrConnection),
			Message:  fmt.Sprintf("move to %q timed out; restored to %q", p.To, p.From),
		})
		expired++
	}
	return expired
}

// HandleEvent applies a broadcast event to the local view.
func (r *Reconciler) HandleEvent(ev domain.BoardEvent) error {
	if ev.BoardID != r.boardID {
		return nil
	}

	switch ev.Type {
	case domain.EventTicketMoved:
		var delta domain.MoveDelta
		if err := decodeData(ev.Data, &delta); err != nil {
			return fmt.Errorf("reconcile.HandleEvent: %w", err)
		}
		r.applyMove(delta)

	case domain.EventTicketCreated, domain.EventTicketUpdated:
		var t domain.Ticket
		if err := decodeData(ev.Data, &t); err != nil {
			return fmt.Errorf("reconcile.HandleEvent: %w", err)
		}
		r.mu.Lock()
		if _, known := r.states[t.ID]; !known && t.Column != "" {
			r.states[t.ID] = Confirmed{Column: t.Column}
		}
		r.mu.Unlock()

	case domain.EventTicketDeleted:
		r.mu.Lock()
		if _, pending := r.states[ev.TicketID].(Pending); pending {
			r.noticeLocked(Notice{
				TicketID: ev.TicketID,
				Err:      domain.ErrNotFound,
				Message:  "ticket was deleted while a move was pending",
			})
		}
		r.forgetLocked(ev.TicketID)
		r.mu.Unlock()

	case domain.EventBoardDeleted:
		r.mu.Lock()
		for id := range r.states {
			r.forgetLocked(id)
		}
		r.noticeLocked(Notice{Err: domain.ErrNotFound, Message: "board was deleted"})
		r.mu.Unlock()
	}
	return nil
}

func (r *Reconciler) applyMove(delta domain.MoveDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, pending := r.states[delta.TicketID].(Pending)
	switch {
	case !pending:
		r.states[delta.TicketID] = Confirmed{Column: delta.ToColumn}
	case delta.RequestID != "" && delta.RequestID == p.RequestID,
		delta.FromColumn == p.From && delta.ToColumn == p.To:
		r.settleLocked(delta.TicketID, Confirmed{Column: p.To})
	default:
		r.settleLocked(delta.TicketID, Confirmed{Column: delta.ToColumn})
		r.noticeLocked(Notice{
			TicketID: delta.TicketID,
			Err:      domain.ErrStaleState,
			Message:  fmt.Sprintf("ticket was moved to %q by someone else", delta.ToColumn),
		})
	}
}

// Recover settles every journaled move for this board against the server.
// Each entry yields exactly one Outcome; unresolved entries stay journaled.
func (r *Reconciler) Recover(ctx context.Context, server ServerView) ([]Outcome, error) {
	entries, err := r.journal.Load()
	if err != nil {
		return nil, fmt.Errorf("reconcile.Recover: %w", err)
	}

	var (
		outcomes []Outcome
		errs     []error
	)
	for _, e := range entries {
		if e.BoardID != r.boardID {
			continue
		}
		out := Outcome{TicketID: e.TicketID, RequestID: e.RequestID}

		column, err := server.TicketColumn(ctx, e.TicketID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			out.Kind = OutcomeRemoved
			r.mu.Lock()
			r.dropLocked(e.TicketID)
			r.noticeLocked(Notice{TicketID: e.TicketID, Err: domain.ErrNotFound, Message: "ticket no longer exists"})
			r.mu.Unlock()
		case err != nil:
			out.Kind = OutcomeUnresolved
			out.Err = err
			errs = append(errs, fmt.Errorf("ticket %s: %w", e.TicketID, err))
			r.mu.Lock()
			r.states[e.TicketID] = e.pending()
			r.mu.Unlock()
		default:
			out.Column = column
			switch column {
			case e.To:
				out.Kind = OutcomeConfirmed
			case e.From:
				out.Kind = OutcomeRolledBack
			default:
				out.Kind = OutcomeServerWins
			}
			r.mu.Lock()
			r.settleLocked(e.TicketID, Confirmed{Column: column})
			if out.Kind != OutcomeConfirmed {
				r.noticeLocked(Notice{
					TicketID: e.TicketID,
					Err:      domain.ErrStaleState,
					Message:  fmt.Sprintf("pending move to %q not applied; server has %q", e.To, column),
				})
			}
			r.mu.Unlock()
		}

		log.Info().
			Str("ticket_id", e.TicketID.String()).
			Str("request_id", e.RequestID).
			Str("outcome", string(out.Kind)).
			Msg("reconcile: recovered pending move")
		outcomes = append(outcomes, out)
	}

	if len(errs) > 0 {
		return outcomes, fmt.Errorf("reconcile.Recover: %w", errors.Join(errs...))
	}
	return outcomes, nil
}

// settleLocked must be called with r.mu held.
func (r *Reconciler) settleLocked(ticketID uuid.UUID, s Confirmed) {
	if err := r.journal.Delete(ticketID); err != nil {
		log.Warn().Err(err).Str("ticket_id", ticketID.String()).Msg("reconcile: journal delete failed")
	}
	r.states[ticketID] = s
}

// forgetLocked must be called with r.mu held.
func (r *Reconciler) forgetLocked(ticketID uuid.UUID) {
	if _, pending := r.states[ticketID].(Pending); pending {
		r.dropLocked(ticketID)
		return
	}
	delete(r.states, ticketID)
}

// dropLocked removes the ticket and its journal entry whether or not this
// process has seen it. It must be called with r.mu held.
func (r *Reconciler) dropLocked(ticketID uuid.UUID) {
	if err := r.journal.Delete(ticketID); err != nil {
		log.Warn().Err(err).Str("ticket_id", ticketID.String()).Msg("reconcile: journal delete failed")
	}
	delete(r.states, ticketID)
}

// noticeLocked must be called with r.mu held.
func (r *Reconciler) noticeLocked(n Notice) {
	for {
		select {
		case r.notices <- n:
			return
		default:
		}
		select {
		case <-r.notices:
		default:
		}
	}
}

// decodeData accepts either the typed payload or its JSON form.
func decodeData(data any, into any) error {
	var raw []byte
	switch v := data.(type) {
	case nil:
		return fmt.Errorf("missing event data: %w", domain.ErrValidation)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}
