// Package service runs engagement use cases against the aggregate store. Each
// mutation is applied through Store.Update so it commits atomically; the event
// it produced is emitted only after the commit succeeded.
package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/unicom/engagement/internal/cache"
	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/store"
	"github.com/unicom/engagement/pkg/config"
	"github.com/unicom/engagement/pkg/logging"
	"github.com/unicom/engagement/pkg/telemetry"
)

// Emitter receives committed events. Emit must not block; events.Dispatcher
// implements it.
type Emitter interface {
	Emit(ev engagement.Event)
}

// Actor is the authenticated caller as resolved by the transport layer.
type Actor struct {
	ID   string
	Role engagement.Role
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	Limits   config.EngagementConfig
	Cache    *cache.Cache
	CacheTTL time.Duration
	Clock    func() time.Time
	NewID    func() string
	Logger   *zap.Logger
}

// postCache holds committed posts keyed by id. Writes older than the cached
// version are refused; *cache.Cache implements it.
type postCache interface {
	GetVersionedJSON(ctx context.Context, key string, dst interface{}) (int64, error)
	SetVersionedJSON(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) (bool, error)
	Tombstone(ctx context.Context, key string, ttl time.Duration) error
}

// Service is safe for concurrent use.
type Service struct {
	store    store.Store
	emitter  Emitter
	cache    postCache
	cacheTTL time.Duration
	limits   config.EngagementConfig
	now      func() time.Time
	newID    func() string
	policy   *bluemonday.Policy
	loads    singleflight.Group
	logger   *zap.Logger
}

// New creates a Service. A nil emitter discards events.
func New(st store.Store, emitter Emitter, opts Options) *Service {
	if emitter == nil {
		emitter = discard{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("engagement")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	limits := opts.Limits
	if limits.MaxCommentLength <= 0 {
		limits.MaxCommentLength = 5000
	}
	if limits.CommentPageSize <= 0 {
		limits.CommentPageSize = 20
	}
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = 100
	}
	return &Service{
		store:    st,
		emitter:  emitter,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		limits:   limits,
		now:      opts.Clock,
		newID:    opts.NewID,
		policy:   bluemonday.StrictPolicy(),
		logger:   opts.Logger,
	}
}

type discard struct{}

func (discard) Emit(engagement.Event) {}

// postKey hashes the id since post ids arrive straight from callers.
func postKey(id string) string {
	return "post:" + cache.HashKey(id)
}

// sanitize strips markup before the aggregate's own blank check runs, so
// content made only of tags is rejected as empty. The policy escapes the text
// it keeps; that is undone so plain text is stored as written.
func (s *Service) sanitize(content string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(content)))
}

func (s *Service) sanitizePoll(spec engagement.PollSpec) engagement.PollSpec {
	spec.Question = s.sanitize(spec.Question)
	spec.Options = s.sanitizeOptions(spec.Options)
	return spec
}

func (s *Service) sanitizePatch(patch engagement.PollPatch) engagement.PollPatch {
	if patch.Question != nil {
		q := s.sanitize(*patch.Question)
		patch.Question = &q
	}
	patch.Options = s.sanitizeOptions(patch.Options)
	return patch
}

func (s *Service) sanitizeOptions(options []string) []string {
	if options == nil {
		return nil
	}
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = s.sanitize(o)
	}
	return out
}

// mutate applies fn to postID inside one atomic store update. fn may run more
// than once; it must assign its outputs on every call.
func (s *Service) mutate(ctx context.Context, op, postID string, actor Actor, fn func(p *engagement.Post, now time.Time) (*engagement.Event, error)) (*engagement.Post, error) {
	ctx, span := telemetry.StartSpan(ctx, "engagement."+op)
	log := logging.WithPost(s.logger, op, postID, actor.ID)

	var ev *engagement.Event
	updated, err := s.store.Update(ctx, op, postID, func(p *engagement.Post) error {
		var err error
		ev, err = fn(p, s.now())
		return err
	})
	telemetry.EndSpan(span, err, attribute.String("post.id", postID), attribute.String("actor.id", actor.ID))
	if err != nil {
		if engagement.IsCode(err, engagement.CodeUnavailable) {
			log.Error("Engagement update failed", zap.Error(err))
		} else {
			log.Debug("Engagement update rejected", zap.Error(err))
		}
		return nil, err
	}

	s.remember(ctx, updated)
	if ev != nil {
		ev.ID = s.newID()
		s.emitter.Emit(*ev)
	}
	log.Debug("Engagement update committed", zap.Int64("version", updated.Version))
	return updated, nil
}

// remember caches p at its version. A reader that fetched an older version
// before p committed can no longer overwrite it.
func (s *Service) remember(ctx context.Context, p *engagement.Post) {
	if _, err := s.cache.SetVersionedJSON(ctx, postKey(p.ID), p.Version, p, s.cacheTTL); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		s.logger.Warn("Cache write failed", zap.String("post_id", p.ID), zap.Error(err))
	}
}

func (s *Service) forget(ctx context.Context, postID string) {
	if err := s.cache.Tombstone(ctx, postKey(postID), s.cacheTTL); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		s.logger.Warn("Failed to drop cached post", zap.String("post_id", postID), zap.Error(err))
	}
}

// load reads a post through the cache. Concurrent misses on the same post
// share one store read.
func (s *Service) load(ctx context.Context, postID string) (*engagement.Post, error) {
	key := postKey(postID)
	var cached engagement.Post
	if _, err := s.cache.GetVersionedJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheDisabled) && !errors.Is(err, cache.ErrMiss) && !errors.Is(err, cache.ErrGone) {
		s.logger.Warn("Cache read failed", zap.String("post_id", postID), zap.Error(err))
	}

	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		p, err := s.store.Get(ctx, postID)
		if err != nil {
			return nil, err
		}
		s.remember(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engagement.Post).Clone(), nil
}

// visible loads postID and hides it from viewers that may not see it.
func (s *Service) visible(ctx context.Context, op, postID string, viewer Actor) (*engagement.Post, error) {
	ctx, span := telemetry.StartSpan(ctx, "engagement."+op)
	p, err := s.load(ctx, postID)
	if err == nil && !p.VisibleTo(viewer.ID, viewer.Role) {
		p, err = nil, engagement.NewError(engagement.CodeNotFound, op, "post not found")
	}
	telemetry.EndSpan(span, err, attribute.String("post.id", postID))
	return p, err
}

// CreatePostInput describes a new post. Poll is optional.
type CreatePostInput struct {
	Kind    engagement.PostKind
	ClubID  string
	Content string
	Poll    *engagement.PollSpec
}

// CreatePost stores a new post with a generated id.
func (s *Service) CreatePost(ctx context.Context, actor Actor, in CreatePostInput) (*engagement.Post, error) {
	const op = "post.create"
	ctx, span := telemetry.StartSpan(ctx, "engagement."+op)
	p, err := s.createPost(ctx, actor, in)
	if p != nil {
		telemetry.EndSpan(span, err, attribute.String("post.id", p.ID))
	} else {
		telemetry.EndSpan(span, err)
	}
	return p, err
}

func (s *Service) createPost(ctx context.Context, actor Actor, in CreatePostInput) (*engagement.Post, error) {
	now := s.now()
	p, err := engagement.NewPost(engagement.NewPostInput{
		ID:         s.newID(),
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
		Kind:       in.Kind,
		ClubID:     in.ClubID,
		Content:    s.sanitize(in.Content),
	}, now)
	if err != nil {
		return nil, err
	}
	if in.Poll != nil {
		if _, err := p.CreatePoll(actor.ID, actor.Role, s.sanitizePoll(*in.Poll), now); err != nil {
			return nil, err
		}
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	logging.WithPost(s.logger, "post.create", p.ID, actor.ID).Info("Post created",
		zap.String("kind", string(p.Kind)),
		zap.String("status", string(p.Status)))
	return p, nil
}

// GetPost returns the post if viewer may see it.
func (s *Service) GetPost(ctx context.Context, viewer Actor, postID string) (*engagement.Post, error) {
	return s.visible(ctx, "post.get", postID, viewer)
}

// EditContent replaces the post body.
func (s *Service) EditContent(ctx context.Context, actor Actor, postID, content string) (*engagement.Post, error) {
	content = s.sanitize(content)
	return s.mutate(ctx, "post.edit", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		return nil, p.EditContent(actor.ID, content, now)
	})
}

// DeletePost removes the post with its reactions, comments and poll.
func (s *Service) DeletePost(ctx context.Context, actor Actor, postID string) error {
	const op = "post.delete"
	ctx, span := telemetry.StartSpan(ctx, "engagement."+op)
	err := s.store.Delete(ctx, op, postID, func(p *engagement.Post) error {
		return p.AuthorizeDelete(actor.ID, actor.Role)
	})
	telemetry.EndSpan(span, err, attribute.String("post.id", postID))
	if err != nil {
		return err
	}
	s.forget(ctx, postID)
	logging.WithPost(s.logger, op, postID, actor.ID).Info("Post deleted")
	return nil
}

// Approve publishes a pending post.
func (s *Service) Approve(ctx context.Context, actor Actor, postID string) (*engagement.Post, error) {
	return s.mutate(ctx, "post.approve", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		return p.Approve(actor.ID, actor.Role, now)
	})
}

// Reject closes a pending post for good.
func (s *Service) Reject(ctx context.Context, actor Actor, postID, reason string) (*engagement.Post, error) {
	reason = s.sanitize(reason)
	return s.mutate(ctx, "post.reject", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		return p.Reject(actor.ID, actor.Role, reason, now)
	})
}

// React toggles the actor's reaction.
func (s *Service) React(ctx context.Context, actor Actor, postID string, kind engagement.ReactionKind) (engagement.ReactionResult, error) {
	var res engagement.ReactionResult
	_, err := s.mutate(ctx, "reaction.toggle", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		var ev *engagement.Event
		var err error
		res, ev, err = p.React(actor.ID, kind, now)
		return ev, err
	})
	if err != nil {
		return engagement.ReactionResult{}, err
	}
	return res, nil
}

// Reactions summarises the reactions on a post for viewer.
func (s *Service) Reactions(ctx context.Context, viewer Actor, postID string) (engagement.ReactionResult, error) {
	p, err := s.visible(ctx, "reaction.summary", postID, viewer)
	if err != nil {
		return engagement.ReactionResult{}, err
	}
	return p.ReactionSummary(viewer.ID), nil
}

func (s *Service) checkCommentLength(op, content string) error {
	if n := utf8.RuneCountInString(content); n > s.limits.MaxCommentLength {
		return engagement.NewError(engagement.CodeValidation, op,
			fmt.Sprintf("comment is %d characters, limit is %d", n, s.limits.MaxCommentLength))
	}
	return nil
}

// AddComment appends a comment with a generated id.
func (s *Service) AddComment(ctx context.Context, actor Actor, postID, content string) (engagement.Comment, error) {
	content = s.sanitize(content)
	if err := s.checkCommentLength("comment.add", content); err != nil {
		return engagement.Comment{}, err
	}
	commentID := s.newID()
	var c engagement.Comment
	_, err := s.mutate(ctx, "comment.add", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		var ev *engagement.Event
		var err error
		c, ev, err = p.AddComment(commentID, actor.ID, content, now)
		return ev, err
	})
	if err != nil {
		return engagement.Comment{}, err
	}
	return c, nil
}

// EditComment replaces a comment's content.
func (s *Service) EditComment(ctx context.Context, actor Actor, postID, commentID, content string) (engagement.Comment, error) {
	content = s.sanitize(content)
	if err := s.checkCommentLength("comment.edit", content); err != nil {
		return engagement.Comment{}, err
	}
	var c engagement.Comment
	_, err := s.mutate(ctx, "comment.edit", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		var err error
		c, err = p.EditComment(commentID, actor.ID, content, now)
		return nil, err
	})
	if err != nil {
		return engagement.Comment{}, err
	}
	return c, nil
}

// DeleteComment removes a comment.
func (s *Service) DeleteComment(ctx context.Context, actor Actor, postID, commentID string) error {
	_, err := s.mutate(ctx, "comment.delete", postID, actor, func(p *engagement.Post, _ time.Time) (*engagement.Event, error) {
		return nil, p.DeleteComment(commentID, actor.ID, actor.Role)
	})
	return err
}

// ListComments pages through a post's comments, newest first. A non-positive
// limit selects the default page size; larger limits are clamped.
func (s *Service) ListComments(ctx context.Context, viewer Actor, postID string, page, limit int) (engagement.CommentPage, error) {
	if limit <= 0 {
		limit = s.limits.CommentPageSize
	}
	if limit > s.limits.MaxPageSize {
		limit = s.limits.MaxPageSize
	}
	p, err := s.visible(ctx, "comment.list", postID, viewer)
	if err != nil {
		return engagement.CommentPage{}, err
	}
	return p.Comments.Page(page, limit), nil
}

// CreatePoll embeds a poll in an existing post.
func (s *Service) CreatePoll(ctx context.Context, actor Actor, postID string, spec engagement.PollSpec) (engagement.PollResults, error) {
	spec = s.sanitizePoll(spec)
	var res engagement.PollResults
	_, err := s.mutate(ctx, "poll.create", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		poll, err := p.CreatePoll(actor.ID, actor.Role, spec, now)
		if err != nil {
			return nil, err
		}
		res = poll.Results(actor.ID, now)
		return nil, nil
	})
	if err != nil {
		return engagement.PollResults{}, err
	}
	return res, nil
}

// Vote casts the actor's single ballot.
func (s *Service) Vote(ctx context.Context, actor Actor, postID string, indexes []int) (engagement.PollResults, error) {
	var res engagement.PollResults
	_, err := s.mutate(ctx, "poll.vote", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		var ev *engagement.Event
		var err error
		res, ev, err = p.Vote(actor.ID, indexes, now)
		return ev, err
	})
	if err != nil {
		return engagement.PollResults{}, err
	}
	return res, nil
}

// UpdatePoll patches the poll.
func (s *Service) UpdatePoll(ctx context.Context, actor Actor, postID string, patch engagement.PollPatch) (engagement.PollResults, error) {
	patch = s.sanitizePatch(patch)
	var res engagement.PollResults
	_, err := s.mutate(ctx, "poll.update", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		poll, err := p.UpdatePoll(actor.ID, actor.Role, patch, now)
		if err != nil {
			return nil, err
		}
		res = poll.Results(actor.ID, now)
		return nil, nil
	})
	if err != nil {
		return engagement.PollResults{}, err
	}
	return res, nil
}

// DeletePoll removes the poll but keeps the post.
func (s *Service) DeletePoll(ctx context.Context, actor Actor, postID string) error {
	_, err := s.mutate(ctx, "poll.delete", postID, actor, func(p *engagement.Post, now time.Time) (*engagement.Event, error) {
		return nil, p.DeletePoll(actor.ID, actor.Role, now)
	})
	return err
}

// PollResults returns the poll view for viewer.
func (s *Service) PollResults(ctx context.Context, viewer Actor, postID string) (engagement.PollResults, error) {
	p, err := s.visible(ctx, "poll.results", postID, viewer)
	if err != nil {
		return engagement.PollResults{}, err
	}
	return p.PollResults(viewer.ID, s.now())
}
