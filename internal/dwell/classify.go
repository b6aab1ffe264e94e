// Package dwell colors tickets by how long they have sat in their current
// column relative to the rest of their board.
package dwell

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/kanbansync/internal/domain"
)

const (
	DefaultBandK         = 0.5
	DefaultMinPopulation = 10
	DefaultGracePeriod   = time.Hour
)

type Options struct {
	// BandK is the half-width of the yellow band in standard deviations.
	BandK float64
	// MinPopulation is the smallest sample that yields colors; smaller
	// boards are all gray.
	MinPopulation int
	// GracePeriod keeps freshly created tickets gray and out of the sample.
	GracePeriod time.Duration
}

func DefaultOptions() Options {
	return Options{
		BandK:         DefaultBandK,
		MinPopulation: DefaultMinPopulation,
		GracePeriod:   DefaultGracePeriod,
	}
}

func (o Options) withDefaults() Options {
	if o.BandK <= 0 {
		o.BandK = DefaultBandK
	}
	if o.MinPopulation <= 0 {
		o.MinPopulation = DefaultMinPopulation
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	return o
}

// Summary describes the sample a board was classified against.
type Summary struct {
	Population int           `json:"population"`
	Mean       time.Duration `json:"mean_ns"`
	StdDev     time.Duration `json:"stddev_ns"`
	Lower      time.Duration `json:"lower_ns"`
	Upper      time.Duration `json:"upper_ns"`
	Sufficient bool          `json:"sufficient"`
}

// Result is one board's classification snapshot.
type Result struct {
	BoardID         uuid.UUID               `json:"board_id"`
	Classifications []domain.Classification `json:"classifications"`
	Summary         Summary                 `json:"summary"`
	ComputedAt      time.Time               `json:"computed_at"`
}

// Colors returns the classifications keyed by ticket.
func (r Result) Colors() map[uuid.UUID]domain.Color {
	out := make(map[uuid.UUID]domain.Color, len(r.Classifications))
	for _, c := range r.Classifications {
		out[c.TicketID] = c.Color
	}
	return out
}

// Classify colors every ticket of b in two linear passes. Tickets belonging
// to another board are ignored. The mean and population standard deviation
// are taken over tickets outside boundary columns and past their grace
// period; everything else is gray.
func Classify(b *domain.Board, tickets []*domain.Ticket, now time.Time, opts Options) Result {
	opts = opts.withDefaults()
	res := Result{
		BoardID:         b.ID,
		Classifications: make([]domain.Classification, 0, len(tickets)),
		ComputedAt:      now,
	}

	sampled := func(t *domain.Ticket) bool {
		if !b.HasColumn(t.Column) || b.IsBoundaryColumn(t.Column) {
			return false
		}
		return now.Sub(t.CreatedAt) >= opts.GracePeriod
	}

	var sum, sumSq float64
	n := 0
	for _, t := range tickets {
		if t.BoardID != b.ID || !sampled(t) {
			continue
		}
		d := float64(t.Dwell(now))
		sum += d
		sumSq += d * d
		n++
	}

	res.Summary.Population = n
	res.Summary.Sufficient = n >= opts.MinPopulation

	var lower, upper float64
	if n > 0 {
		mean := sum / float64(n)
		variance := math.Max(sumSq/float64(n)-mean*mean, 0)
		stddev := math.Sqrt(variance)
		lower = mean - opts.BandK*stddev
		upper = mean + opts.BandK*stddev

		res.Summary.Mean = time.Duration(mean)
		res.Summary.StdDev = time.Duration(stddev)
		res.Summary.Lower = time.Duration(lower)
		res.Summary.Upper = time.Duration(upper)
	}

	for _, t := range tickets {
		if t.BoardID != b.ID {
			continue
		}
		color := domain.ColorGray
		if res.Summary.Sufficient && sampled(t) {
			d := float64(t.Dwell(now))
			switch {
			case d < lower:
				color = domain.ColorGreen
			case d > upper:
				color = domain.ColorRed
			default:
				color = domain.ColorYellow
			}
		}
		res.Classifications = append(res.Classifications, domain.Classification{
			TicketID: t.ID,
			Color:    color,
		})
	}

	return res
}
