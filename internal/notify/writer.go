// Package notify turns committed engagement events into per-user
// notification rows.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/models"
	"github.com/unicom/engagement/pkg/logging"
)

// NotificationStore persists notification rows. Create must be idempotent on
// (event id, recipient) and report whether a row was written.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) (bool, error)
}

// Writer fans an event out to its targets.
type Writer struct {
	store  NotificationStore
	seen   *lru.Cache[string, struct{}]
	limit  int
	logger *zap.Logger
}

// NewWriter remembers the last seenSize event ids to skip redeliveries
// without a database round trip.
func NewWriter(store NotificationStore, seenSize int) (*Writer, error) {
	if seenSize <= 0 {
		seenSize = 4096
	}
	seen, err := lru.New[string, struct{}](seenSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Writer{
		store:  store,
		seen:   seen,
		limit:  8,
		logger: logging.WithComponent("notify"),
	}, nil
}

// Write creates one notification per target of ev. Events that notify nobody
// (toggle-offs, self actions) are skipped. It returns how many rows were
// written.
func (w *Writer) Write(ctx context.Context, ev engagement.Event) (int, error) {
	if ev.ID != "" && w.seen.Contains(ev.ID) {
		return 0, nil
	}
	typeID, ok := notifyType(ev.Kind())
	if !ok || len(ev.TargetUserIDs) == 0 {
		w.markSeen(ev)
		return 0, nil
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload of %s: %w", ev.ID, err)
	}

	results := make([]bool, len(ev.TargetUserIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.limit)
	for i, recipient := range ev.TargetUserIDs {
		if recipient == ev.ActorID {
			continue
		}
		g.Go(func() error {
			inserted, err := w.store.Create(gctx, &models.Notification{
				EventID:     ev.ID,
				RecipientID: recipient,
				ActorID:     ev.ActorID,
				PostID:      ev.PostID,
				Type:        typeID,
				Payload:     payload,
				CreatedAt:   ev.OccurredAt.UTC(),
			})
			if err != nil {
				return fmt.Errorf("notify %s of %s: %w", recipient, ev.ID, err)
			}
			results[i] = inserted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	written := 0
	for _, ok := range results {
		if ok {
			written++
		}
	}
	w.markSeen(ev)

	w.logger.Info("[NOTIFY]",
		zap.String("type", getNotifyTypeName(typeID)),
		zap.String("event_id", ev.ID),
		zap.String("post_id", ev.PostID),
		zap.String("actor_id", ev.ActorID),
		zap.Int("recipients", len(ev.TargetUserIDs)),
		zap.Int("written", written))
	return written, nil
}

func (w *Writer) markSeen(ev engagement.Event) {
	if ev.ID != "" {
		w.seen.Add(ev.ID, struct{}{})
	}
}

// notifyType maps event kinds to notification types. Reaction changes count
// as a new like; removals notify nobody.
func notifyType(kind engagement.EventKind) (int16, bool) {
	switch kind {
	case engagement.EventReactionAdded, engagement.EventReactionChanged:
		return models.NotifyTypePostLiked, true
	case engagement.EventPostCommented:
		return models.NotifyTypePostCommented, true
	case engagement.EventPollVoted:
		return models.NotifyTypePollVoted, true
	case engagement.EventPostApproved:
		return models.NotifyTypePostApproved, true
	case engagement.EventPostRejected:
		return models.NotifyTypePostRejected, true
	default:
		return 0, false
	}
}

func getNotifyTypeName(typeID int16) string {
	names := map[int16]string{
		models.NotifyTypePostLiked:     "post_liked",
		models.NotifyTypePostCommented: "post_commented",
		models.NotifyTypePollVoted:     "poll_voted",
		models.NotifyTypePostApproved:  "post_approved",
		models.NotifyTypePostRejected:  "post_rejected",
	}
	if name, ok := names[typeID]; ok {
		return name
	}
	return "unknown"
}

// TypeName is the external name of a notification type id.
func TypeName(typeID int16) string {
	return getNotifyTypeName(typeID)
}
