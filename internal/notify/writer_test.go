package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/events"
	"github.com/unicom/engagement/internal/models"
)

func openRepo(t *testing.T) *db.NotificationRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), "ERROR")
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.NewNotificationRepository(db.NewRepository(d.DB))
}

func event(id string, p engagement.Payload, targets ...string) engagement.Event {
	if targets == nil {
		targets = []string{}
	}
	return engagement.Event{
		ID:            id,
		PostID:        "p1",
		ActorID:       "u1",
		TargetUserIDs: targets,
		Payload:       p,
		OccurredAt:    time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotifyType(t *testing.T) {
	tests := []struct {
		kind     engagement.EventKind
		expected string
		ok       bool
	}{
		{engagement.EventReactionAdded, "post_liked", true},
		{engagement.EventReactionChanged, "post_liked", true},
		{engagement.EventReactionRemoved, "unknown", false},
		{engagement.EventPostCommented, "post_commented", true},
		{engagement.EventPollVoted, "poll_voted", true},
		{engagement.EventPostApproved, "post_approved", true},
		{engagement.EventPostRejected, "post_rejected", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			typeID, ok := notifyType(tt.kind)
			if ok != tt.ok {
				t.Fatalf("notifyType(%s) ok = %v, want %v", tt.kind, ok, tt.ok)
			}
			if got := getNotifyTypeName(typeID); got != tt.expected {
				t.Errorf("getNotifyTypeName(%d) = %v, want %v", typeID, got, tt.expected)
			}
		})
	}
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	w, err := NewWriter(repo, 16)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	liked := event("e1", engagement.ReactionAddedPayload{Reaction: engagement.ReactionLove}, "author")
	n, err := w.Write(ctx, liked)
	if err != nil || n != 1 {
		t.Fatalf("Write(liked) = %d, %v", n, err)
	}

	// LRU short-circuits the redelivery.
	if n, err := w.Write(ctx, liked); err != nil || n != 0 {
		t.Errorf("redelivered Write() = %d, %v", n, err)
	}

	// A fresh writer has no memory; the unique index still prevents a second row.
	w2, _ := NewWriter(repo, 16)
	if n, err := w2.Write(ctx, liked); err != nil || n != 0 {
		t.Errorf("Write() on fresh writer = %d, %v", n, err)
	}

	removed := event("e2", engagement.ReactionRemovedPayload{Reaction: engagement.ReactionLove})
	if n, err := w.Write(ctx, removed); err != nil || n != 0 {
		t.Errorf("Write(removed) = %d, %v", n, err)
	}

	selfTarget := event("e3", engagement.PostCommentedPayload{CommentID: "c1"}, "u1")
	if n, err := w.Write(ctx, selfTarget); err != nil || n != 0 {
		t.Errorf("Write(self) = %d, %v", n, err)
	}

	list, err := repo.ListForRecipient(ctx, "author", 10, 0)
	if err != nil {
		t.Fatalf("ListForRecipient() error = %v", err)
	}
	if len(list) != 1 || list[0].Type != models.NotifyTypePostLiked || string(list[0].Payload) != `{"reaction":"love"}` {
		t.Errorf("notifications = %+v", list)
	}
}

func TestWriter_FanOut(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	w, _ := NewWriter(repo, 16)

	targets := []string{"a", "b", "c", "d"}
	n, err := w.Write(ctx, event("e9", engagement.PostApprovedPayload{}, targets...))
	if err != nil || n != len(targets) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	for _, r := range targets {
		if c, _ := repo.CountUnread(ctx, r); c != 1 {
			t.Errorf("CountUnread(%s) = %d, want 1", r, c)
		}
	}
}

type failingStore struct{}

func (failingStore) Create(context.Context, *models.Notification) (bool, error) {
	return false, errors.New("db down")
}

func TestWriter_FailureIsNotRemembered(t *testing.T) {
	w, _ := NewWriter(failingStore{}, 16)
	ev := event("e1", engagement.PollVotedPayload{OptionIndexes: []int{0}}, "author")
	if _, err := w.Write(context.Background(), ev); err == nil {
		t.Fatal("Write() should fail")
	}
	if w.seen.Contains("e1") {
		t.Error("failed event marked as seen")
	}
}

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]engagement.Event
	cancel  context.CancelFunc
	errs    int
}

func (s *scriptedSource) Poll(ctx context.Context, handle events.Handler) (int, error) {
	s.mu.Lock()
	if len(s.batches) == 0 {
		s.mu.Unlock()
		s.cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	s.mu.Unlock()

	n := 0
	for _, ev := range batch {
		if err := handle(ctx, ev); err != nil {
			s.errs++
			continue
		}
		n++
	}
	return n, nil
}

func TestSync_Run(t *testing.T) {
	repo := openRepo(t)
	w, _ := NewWriter(repo, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{
		cancel: cancel,
		batches: [][]engagement.Event{
			{event("e1", engagement.PostCommentedPayload{CommentID: "c1"}, "author")},
			{event("e2", engagement.PollVotedPayload{OptionIndexes: []int{1}}, "author"), event("e1", engagement.PostCommentedPayload{CommentID: "c1"}, "author")},
		},
	}

	err := NewSync(src, w, time.Millisecond).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want canceled", err)
	}
	if c, _ := repo.CountUnread(context.Background(), "author"); c != 2 {
		t.Errorf("CountUnread() = %d, want 2", c)
	}
	if src.errs != 0 {
		t.Errorf("handler errors = %d", src.errs)
	}
}
