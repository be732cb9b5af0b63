package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unicom/engagement/internal/api/objects"
	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/notify"
)

// NotificationAPI serves the caller's own notifications.
type NotificationAPI struct {
	repo *db.NotificationRepository
	now  func() time.Time
}

// NewNotificationAPI creates a new notification API
func NewNotificationAPI(repo *db.Repository, now func() time.Time) *NotificationAPI {
	if now == nil {
		now = time.Now
	}
	return &NotificationAPI{repo: db.NewNotificationRepository(repo), now: now}
}

// List handles notification.list
func (n *NotificationAPI) List(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, NewError(ErrInvalidParams, "invalid parameters format")
		}
	}
	limit := p.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	notifications, err := n.repo.ListForRecipient(ctx.Request.Context(), actor.ID, limit, p.Offset)
	if err != nil {
		return nil, err
	}
	result := make([]interface{}, 0, len(notifications))
	for _, notif := range notifications {
		result = append(result, objects.Notification(notif, notify.TypeName))
	}
	return result, nil
}

// Unread handles notification.unread
func (n *NotificationAPI) Unread(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	unread, err := n.repo.CountUnread(ctx.Request.Context(), actor.ID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"unread": unread,
	}, nil
}

// MarkRead handles notification.mark_read
func (n *NotificationAPI) MarkRead(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	marked, err := n.repo.MarkAllRead(ctx.Request.Context(), actor.ID, n.now().UTC())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"marked": marked,
	}, nil
}
