package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/unicom/engagement/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PostDocumentRepository provides post document operations
type PostDocumentRepository struct {
	*Repository
}

// NewPostDocumentRepository creates a new post document repository
func NewPostDocumentRepository(repo *Repository) *PostDocumentRepository {
	return &PostDocumentRepository{Repository: repo}
}

// GetByID retrieves a post document by ID
func (r *PostDocumentRepository) GetByID(ctx context.Context, id string) (*models.PostDocument, error) {
	var doc models.PostDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// Create inserts a new post document
func (r *PostDocumentRepository) Create(ctx context.Context, doc *models.PostDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// UpdateByVersion writes doc only if the stored row still has expectedVersion.
// It reports whether a row was updated.
func (r *PostDocumentRepository) UpdateByVersion(ctx context.Context, doc *models.PostDocument, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PostDocument{}).
		Where("id = ? AND version = ?", doc.ID, expectedVersion).
		Updates(map[string]any{
			"status":     doc.Status,
			"version":    doc.Version,
			"document":   doc.Document,
			"updated_at": doc.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteByVersion removes the row only if it still has expectedVersion.
func (r *PostDocumentRepository) DeleteByVersion(ctx context.Context, id string, expectedVersion int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, expectedVersion).
		Delete(&models.PostDocument{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// NotificationRepository provides notification operations
type NotificationRepository struct {
	*Repository
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(repo *Repository) *NotificationRepository {
	return &NotificationRepository{Repository: repo}
}

// Create inserts n unless a row for the same event and recipient exists.
// It reports whether a row was written.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListForRecipient returns the newest notifications for recipientID.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*models.Notification, error) {
	var notifs []*models.Notification
	if err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifs).Error; err != nil {
		return nil, err
	}
	return notifs, nil
}

// CountUnread counts notifications recipientID has not marked read.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkAllRead stamps every unread notification of recipientID.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}
