// Package events delivers engagement events to sinks without ever blocking or
// failing the mutation that produced them.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/engagement"
)

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, ev engagement.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev engagement.Event) error

func (f SinkFunc) Publish(ctx context.Context, ev engagement.Event) error { return f(ctx, ev) }

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("dispatcher closed")

// Dispatcher queues events on a bounded buffer and publishes them from a
// single background goroutine. A full buffer drops the event.
type Dispatcher struct {
	sink    Sink
	queue   chan engagement.Event
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDispatcher starts the publishing goroutine. Close stops it.
func NewDispatcher(sink Sink, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan engagement.Event, buffer),
		logger:  logger,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues ev. It never blocks.
func (d *Dispatcher) Emit(ev engagement.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "buffer full")
	}
}

func (d *Dispatcher) drop(ev engagement.Event, reason string) {
	d.dropped.Add(1)
	d.logger.Warn("Dropping engagement event",
		zap.String("reason", reason),
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind())),
		zap.String("post_id", ev.PostID),
	)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Publish(ctx, ev); err != nil {
			d.failed.Add(1)
			d.logger.Warn("Failed to publish engagement event",
				zap.String("event_id", ev.ID),
				zap.String("kind", string(ev.Kind())),
				zap.String("post_id", ev.PostID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded without publishing.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Failed reports how many publish attempts returned an error.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }
