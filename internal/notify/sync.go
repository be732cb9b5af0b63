package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/events"
	"github.com/unicom/engagement/pkg/logging"
)

// Source yields batches of events. events.Consumer implements it.
type Source interface {
	Poll(ctx context.Context, handle events.Handler) (int, error)
}

// Sync drains a Source into a Writer until its context ends.
type Sync struct {
	source   Source
	writer   *Writer
	interval time.Duration
	logger   *zap.Logger
}

// NewSync creates a consumer loop. interval is the pause after a failed poll.
func NewSync(source Source, writer *Writer, interval time.Duration) *Sync {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Sync{
		source:   source,
		writer:   writer,
		interval: interval,
		logger:   logging.WithComponent("notifier"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sync) Run(ctx context.Context) error {
	s.logger.Info("Starting notification sync")

	handle := func(ctx context.Context, ev engagement.Event) error {
		_, err := s.writer.Write(ctx, ev)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			n, err := s.source.Poll(ctx, handle)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("Failed to poll engagement events", zap.Error(err))
				s.wait(ctx)
				continue
			}
			if n > 0 {
				s.logger.Debug("Processed engagement events", zap.Int("count", n))
			}
		}
	}
}

// wait waits for the retry interval or until context is cancelled
func (s *Sync) wait(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
