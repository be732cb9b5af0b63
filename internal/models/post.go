package models

import (
	"time"

	"gorm.io/datatypes"
)

// PostDocument stores one post aggregate as a JSON document. Version is the
// optimistic concurrency token: every committed write bumps it by one.
type PostDocument struct {
	ID        string         `gorm:"type:varchar(64);primaryKey;column:id"`
	AuthorID  string         `gorm:"type:varchar(64);not null;index;column:author_id"`
	Kind      string         `gorm:"type:varchar(16);not null;column:kind"`
	ClubID    string         `gorm:"type:varchar(64);index;column:club_id"`
	Status    string         `gorm:"type:varchar(16);not null;index;column:status"`
	Version   int64          `gorm:"not null;default:0;column:version"`
	Document  datatypes.JSON `gorm:"not null;column:document"`
	CreatedAt time.Time      `gorm:"not null;column:created_at"`
	UpdatedAt time.Time      `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for PostDocument
func (PostDocument) TableName() string {
	return "engagement_posts"
}
