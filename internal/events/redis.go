package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/engagement"
)

const eventField = "event"

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink writes to stream, trimming it to roughly maxLen entries.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Publish(ctx context.Context, ev engagement.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{eventField: raw},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Handler processes one decoded event. Returning an error leaves the entry
// pending; a later reclaim pass retries it.
type Handler func(ctx context.Context, ev engagement.Event) error

// Consumer reads a stream through a consumer group.
type Consumer struct {
	client       *redis.Client
	stream       string
	group        string
	name         string
	batch        int64
	block        time.Duration
	claimIdle    time.Duration
	reclaimEvery time.Duration
	lastReclaim  time.Time
	logger       *zap.Logger
}

// NewConsumer joins group on stream as consumer name.
func NewConsumer(client *redis.Client, stream, group, name string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		client:       client,
		stream:       stream,
		group:        group,
		name:         name,
		batch:        50,
		block:        2 * time.Second,
		claimIdle:    time.Minute,
		reclaimEvery: 30 * time.Second,
		logger:       logger,
	}
}

// WithReclaim sets how long an entry must sit unacknowledged before another
// consumer takes it over, and how often pending entries are retried.
func (c *Consumer) WithReclaim(idle, every time.Duration) *Consumer {
	if idle > 0 {
		c.claimIdle = idle
	}
	if every > 0 {
		c.reclaimEvery = every
	}
	return c
}

// EnsureGroup creates the stream and group if they do not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", c.group, err)
	}
	return nil
}

// Poll reads one batch of new entries, runs handle on each event and
// acknowledges the ones that succeeded or could not be decoded. The first
// call, and one every reclaim interval after it, first retries pending
// entries. It returns the number handled.
func (c *Consumer) Poll(ctx context.Context, handle Handler) (int, error) {
	retried := 0
	if now := time.Now(); now.Sub(c.lastReclaim) >= c.reclaimEvery {
		n, err := c.reclaim(ctx, handle)
		if err != nil {
			return n, err
		}
		c.lastReclaim = now
		retried = n
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return retried, nil
	}
	if err != nil {
		return retried, fmt.Errorf("xreadgroup %s: %w", c.stream, err)
	}
	n, _, err := c.process(ctx, streams, handle)
	return retried + n, err
}

// reclaim takes over entries other consumers left idle past claimIdle, such as
// those of a crashed process, then retries everything pending on this
// consumer.
func (c *Consumer) reclaim(ctx context.Context, handle Handler) (int, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  c.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", c.stream, err)
	}
	var stale []string
	for _, p := range pending {
		if p.Consumer != c.name && p.Idle >= c.claimIdle {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) > 0 {
		claimed, err := c.client.XClaimJustID(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  c.claimIdle,
			Messages: stale,
		}).Result()
		if err != nil {
			return 0, fmt.Errorf("xclaim %s: %w", c.stream, err)
		}
		c.logger.Info("Claimed idle stream entries", zap.Int("count", len(claimed)))
	}

	// Reading from an id returns this consumer's pending entries without
	// blocking. Failed entries stay pending, so the cursor moves past them.
	handled := 0
	cursor := "0"
	for {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, cursor},
			Count:    c.batch,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return handled, nil
		}
		if err != nil {
			return handled, fmt.Errorf("xreadgroup %s pending: %w", c.stream, err)
		}
		n, last, err := c.process(ctx, streams, handle)
		handled += n
		if err != nil || last == "" {
			return handled, err
		}
		cursor = last
	}
}

// process handles a batch and acknowledges the entries that are done with.
// It returns the number handled and the id of the last entry seen.
func (c *Consumer) process(ctx context.Context, streams []redis.XStream, handle Handler) (int, string, error) {
	handled := 0
	last := ""
	var ack []string
	for _, st := range streams {
		for _, msg := range st.Messages {
			last = msg.ID
			ev, err := decodeMessage(msg)
			if err != nil {
				// Poison entries are acknowledged so they stop blocking the group.
				c.logger.Error("Dropping undecodable stream entry", zap.String("id", msg.ID), zap.Error(err))
				ack = append(ack, msg.ID)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				c.logger.Warn("Event handler failed",
					zap.String("id", msg.ID),
					zap.String("event_id", ev.ID),
					zap.Error(err),
				)
				continue
			}
			handled++
			ack = append(ack, msg.ID)
		}
	}
	if len(ack) > 0 {
		if err := c.client.XAck(ctx, c.stream, c.group, ack...).Err(); err != nil {
			return handled, last, fmt.Errorf("xack: %w", err)
		}
	}
	return handled, last, nil
}

func decodeMessage(msg redis.XMessage) (engagement.Event, error) {
	var ev engagement.Event
	raw, ok := msg.Values[eventField]
	if !ok {
		return ev, fmt.Errorf("entry %s has no %q field", msg.ID, eventField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return ev, fmt.Errorf("entry %s: unexpected %T", msg.ID, raw)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return ev, nil
}
