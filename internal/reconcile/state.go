// Package reconcile keeps a client's optimistic view of a board consistent
// with the authoritative server. Every ticket is either Confirmed or has one
// Pending move; the server always wins a disagreement.
package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// TicketState is Confirmed or Pending.
type TicketState interface {
	// Displayed is the column the user currently sees.
	Displayed() string
	isTicketState()
}

// Confirmed matches the last server-acknowledged column.
type Confirmed struct {
	Column string
}

func (c Confirmed) Displayed() string { return c.Column }
func (Confirmed) isTicketState()      {}

// Pending is an optimistic move awaiting the server's verdict.
type Pending struct {
	From      string
	To        string
	RequestID string
	IssuedAt  time.Time
}

func (p Pending) Displayed() string { return p.To }
func (Pending) isTicketState()      {}

// Notice reports a non-fatal divergence to the user.
type Notice struct {
	TicketID uuid.UUID
	Err      error
	Message  string
}

type OutcomeKind string

const (
	OutcomeConfirmed  OutcomeKind = "confirmed"
	OutcomeRolledBack OutcomeKind = "rolled_back"
	OutcomeServerWins OutcomeKind = "server_wins"
	OutcomeRemoved    OutcomeKind = "removed"
	OutcomeUnresolved OutcomeKind = "unresolved"
)

// Outcome is how one journaled pending move was settled during Recover.
type Outcome struct {
	TicketID  uuid.UUID
	RequestID string
	Kind      OutcomeKind
	Column    string
	Err       error
}
