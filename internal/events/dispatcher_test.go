package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unicom/engagement/internal/engagement"
)

type recordingSink struct {
	mu     sync.Mutex
	events []engagement.Event
}

func (r *recordingSink) Publish(_ context.Context, ev engagement.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.ID
	}
	return out
}

func testEvent(id string) engagement.Event {
	return engagement.Event{
		ID:            id,
		PostID:        "p1",
		ActorID:       "u1",
		TargetUserIDs: []string{"author"},
		Payload:       engagement.ReactionAddedPayload{Reaction: engagement.ReactionLike},
		OccurredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16, nil)
	for i := 0; i < 10; i++ {
		d.Emit(testEvent(fmt.Sprintf("e%d", i)))
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ids := sink.ids()
	if len(ids) != 10 || ids[0] != "e0" || ids[9] != "e9" {
		t.Errorf("published = %v", ids)
	}
	if d.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", d.Dropped())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	sink := &recordingSink{}
	var once sync.Once
	blocking := SinkFunc(func(ctx context.Context, ev engagement.Event) error {
		once.Do(func() { close(started) })
		<-release
		return sink.Publish(ctx, ev)
	})

	d := NewDispatcher(blocking, 1, nil)
	d.Emit(testEvent("e1"))
	<-started
	d.Emit(testEvent("e2"))
	d.Emit(testEvent("e3"))
	close(release)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := sink.ids(); len(got) != 2 || got[0] != "e1" || got[1] != "e2" {
		t.Errorf("published = %v, want [e1 e2]", got)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDispatcher_SinkFailureIsCounted(t *testing.T) {
	d := NewDispatcher(SinkFunc(func(context.Context, engagement.Event) error {
		return errors.New("broker down")
	}), 4, nil)
	d.Emit(testEvent("e1"))
	d.Emit(testEvent("e2"))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", d.Failed())
	}
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4, nil)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	d.Emit(testEvent("late"))
	if d.Dropped() != 1 || len(sink.ids()) != 0 {
		t.Errorf("late event: dropped=%d published=%v", d.Dropped(), sink.ids())
	}
	if err := d.Close(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(SinkFunc(func(context.Context, engagement.Event) error {
		<-release
		return nil
	}), 4, nil)
	d.Emit(testEvent("e1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	boom := errors.New("boom")
	m := MultiSink{a, SinkFunc(func(context.Context, engagement.Event) error { return boom }), b}

	err := m.Publish(context.Background(), testEvent("e1"))
	if !errors.Is(err, boom) {
		t.Errorf("Publish() error = %v, want boom", err)
	}
	if len(a.ids()) != 1 || len(b.ids()) != 1 {
		t.Errorf("sinks after failure: a=%v b=%v", a.ids(), b.ids())
	}
}

func TestDecodeMessage(t *testing.T) {
	good := `{"id":"e1","kind":"post_commented","postId":"p1","actorId":"u1","targetUserIds":["author"],"payload":{"commentId":"c1"},"occurredAt":"2026-01-01T00:00:00Z"}`
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{"string payload", map[string]interface{}{"event": good}, false},
		{"missing field", map[string]interface{}{"other": good}, true},
		{"bad json", map[string]interface{}{"event": "{"}, true},
		{"unknown kind", map[string]interface{}{"event": `{"id":"e1","kind":"nope"}`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeMessage(redis.XMessage{ID: "1-0", Values: tt.values})
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (ev.Payload != engagement.PostCommentedPayload{CommentID: "c1"}) {
				t.Errorf("payload = %+v", ev.Payload)
			}
		})
	}
}

func TestRedisStream_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()
	ctx := context.Background()

	stream := fmt.Sprintf("test:engagement:%d", time.Now().UnixNano())
	defer client.Del(ctx, stream)

	sink := NewRedisSink(client, stream, 1000)
	consumer := NewConsumer(client, stream, "notifier", "c1", nil)
	consumer.block = 100 * time.Millisecond
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("second EnsureGroup() error = %v", err)
	}

	for _, id := range []string{"e1", "e2"} {
		if err := sink.Publish(ctx, testEvent(id)); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}

	var got []string
	n, err := consumer.Poll(ctx, func(_ context.Context, ev engagement.Event) error {
		got = append(got, ev.ID)
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("Poll() = %d, %v", n, err)
	}
	if got[0] != "e1" || got[1] != "e2" {
		t.Errorf("consumed = %v", got)
	}

	n, err = consumer.Poll(ctx, func(context.Context, engagement.Event) error { return nil })
	if err != nil || n != 0 {
		t.Errorf("idle Poll() = %d, %v", n, err)
	}
}

func TestRedisStream_PendingRetried(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()
	ctx := context.Background()

	stream := fmt.Sprintf("test:engagement:pending:%d", time.Now().UnixNano())
	defer client.Del(ctx, stream)

	sink := NewRedisSink(client, stream, 1000)
	for _, id := range []string{"e1", "e2", "e3"} {
		if err := sink.Publish(ctx, testEvent(id)); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}

	failing := func(bad string) Handler {
		return func(_ context.Context, ev engagement.Event) error {
			if ev.ID == bad {
				return errors.New("database down")
			}
			return nil
		}
	}

	// A consumer that fails e1 and then disappears.
	crashed := NewConsumer(client, stream, "notifier", "crashed", nil)
	crashed.block = 100 * time.Millisecond
	crashed.batch = 1
	if err := crashed.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if n, err := crashed.Poll(ctx, failing("e1")); err != nil || n != 0 {
		t.Fatalf("crashed Poll() = %d, %v", n, err)
	}

	// A live consumer that fails e2 once.
	live := NewConsumer(client, stream, "notifier", "live", nil).WithReclaim(200*time.Millisecond, time.Hour)
	live.block = 100 * time.Millisecond
	if n, err := live.Poll(ctx, failing("e2")); err != nil || n != 1 {
		t.Fatalf("first live Poll() = %d, %v", n, err)
	}

	time.Sleep(300 * time.Millisecond)
	live.reclaimEvery = 0
	var retried []string
	n, err := live.Poll(ctx, func(_ context.Context, ev engagement.Event) error {
		retried = append(retried, ev.ID)
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("reclaiming Poll() = %d, %v", n, err)
	}
	sort.Strings(retried)
	if len(retried) != 2 || retried[0] != "e1" || retried[1] != "e2" {
		t.Errorf("retried = %v, want [e1 e2]", retried)
	}

	summary, err := client.XPending(ctx, stream, "notifier").Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if summary.Count != 0 {
		t.Errorf("pending after reclaim = %d, want 0", summary.Count)
	}
}
