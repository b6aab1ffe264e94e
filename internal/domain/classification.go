package domain

import "github.com/google/uuid"

// Color is a dwell-time urgency bucket.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorGray   Color = "gray" // insufficient data, boundary column or grace period
)

// Classification annotates one ticket with its urgency color. It is derived
// on demand and never persisted.
type Classification struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Color    Color     `json:"color"`
}
