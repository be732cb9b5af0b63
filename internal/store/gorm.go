package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/models"
)

// gormBackend stores each post as a JSON document row guarded by a version
// column. It runs on postgres and sqlite.
type gormBackend struct {
	repo *db.PostDocumentRepository
}

// NewGorm returns a Store backed by the engagement_posts table. The schema
// must already be migrated.
func NewGorm(gdb *gorm.DB, runner *Runner) Store {
	return newVersioned(&gormBackend{repo: db.NewPostDocumentRepository(db.NewRepository(gdb))}, runner)
}

func toDocument(p *engagement.Post) (*models.PostDocument, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode post %s: %w", p.ID, err)
	}
	return &models.PostDocument{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Kind:      string(p.Kind),
		ClubID:    p.ClubID,
		Status:    string(p.Status),
		Version:   p.Version,
		Document:  raw,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func fromDocument(doc *models.PostDocument) (*engagement.Post, error) {
	var p engagement.Post
	if err := json.Unmarshal(doc.Document, &p); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", doc.ID, err)
	}
	// The row version is authoritative; the embedded copy may lag a
	// concurrent CAS that only touched the column.
	p.Version = doc.Version
	if p.Reactions == nil {
		p.Reactions = engagement.ReactionSet{}
	}
	if p.Comments == nil {
		p.Comments = engagement.CommentThread{}
	}
	return &p, nil
}

func (g *gormBackend) insert(ctx context.Context, p *engagement.Post) error {
	doc, err := toDocument(p)
	if err != nil {
		return err
	}
	return mapGormError(g.repo.Create(ctx, doc))
}

func (g *gormBackend) load(ctx context.Context, id string) (*engagement.Post, error) {
	doc, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapGormError(err)
	}
	if doc == nil {
		return nil, errMissing
	}
	return fromDocument(doc)
}

func (g *gormBackend) replace(ctx context.Context, p *engagement.Post, expectedVersion int64) error {
	doc, err := toDocument(p)
	if err != nil {
		return err
	}
	ok, err := g.repo.UpdateByVersion(ctx, doc, expectedVersion)
	if err != nil {
		return mapGormError(err)
	}
	if !ok {
		return errVersionConflict
	}
	return nil
}

func (g *gormBackend) remove(ctx context.Context, id string, expectedVersion int64) error {
	ok, err := g.repo.DeleteByVersion(ctx, id, expectedVersion)
	if err != nil {
		return mapGormError(err)
	}
	if !ok {
		return errVersionConflict
	}
	return nil
}

func (g *gormBackend) close(context.Context) error { return nil }

// mapGormError classifies driver failures: duplicates become errExists,
// serialization and lock failures become transient.
func mapGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errExists
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errExists // unique_violation
		case "40001", "40P01", "55P03":
			return transient(err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return errExists
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"):
		return transient(err)
	}
	return err
}
