package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/engagement"
)

// LogSink writes every event to a logger. It is the sink of last resort when
// no stream is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev engagement.Event) error {
	s.logger.Info("Engagement event",
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind())),
		zap.String("post_id", ev.PostID),
		zap.String("actor_id", ev.ActorID),
		zap.Strings("targets", ev.TargetUserIDs),
	)
	return nil
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev engagement.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
