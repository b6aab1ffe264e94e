package relay

import (
	"context"
	"fmt"

	"github.com/gosuda/kanbansync/internal/domain"
)

// Local hands events straight to the sink. It is the single-instance bus.
type Local struct {
	sink Sink
}

func NewLocal(sink Sink) *Local {
	return &Local{sink: sink}
}

func (l *Local) Publish(ctx context.Context, ev domain.BoardEvent) error {
	if err := l.sink.Publish(ctx, ev.BoardID, ev); err != nil {
		return fmt.Errorf("relay.Local.Publish: %w", err)
	}
	return nil
}

func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Ping(context.Context) error { return nil }

func (l *Local) Close() error { return nil }
