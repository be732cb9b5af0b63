package models

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

// Notification is one delivered engagement notice. EventID and RecipientID
// together are unique, so a redelivered event cannot notify twice.
type Notification struct {
	ID          int64          `gorm:"primaryKey;autoIncrement;column:id"`
	EventID     string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_notif_event_recipient;column:event_id"`
	RecipientID string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_notif_event_recipient;index:idx_notif_recipient_created,priority:1;column:recipient_id"`
	ActorID     string         `gorm:"type:varchar(64);not null;column:actor_id"`
	PostID      string         `gorm:"type:varchar(64);not null;index;column:post_id"`
	Type        int16          `gorm:"type:smallint;not null;column:type_id"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_notif_recipient_created,priority:2;column:created_at"`
	ReadAt      sql.NullTime   `gorm:"column:read_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "engagement_notifications"
}

// Notification type constants
const (
	NotifyTypePostLiked     int16 = 1
	NotifyTypePostCommented int16 = 2
	NotifyTypePollVoted     int16 = 3
	NotifyTypePostApproved  int16 = 4
	NotifyTypePostRejected  int16 = 5
)
