package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unicom/engagement/internal/api/objects"
	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/service"
)

// EngagementAPI exposes the engagement service over JSON-RPC.
type EngagementAPI struct {
	svc *service.Service
	now func() time.Time
}

// NewEngagementAPI creates a new engagement API
func NewEngagementAPI(svc *service.Service, now func() time.Time) *EngagementAPI {
	if now == nil {
		now = time.Now
	}
	return &EngagementAPI{svc: svc, now: now}
}

type postParams struct {
	PostID string `json:"post_id"`
}

type pollParams struct {
	Question           string     `json:"question"`
	Options            []string   `json:"options"`
	AllowMultipleVotes bool       `json:"allow_multiple_votes"`
	EndDate            *time.Time `json:"end_date"`
}

func (p *pollParams) spec() engagement.PollSpec {
	return engagement.PollSpec{
		Question:           p.Question,
		Options:            p.Options,
		AllowMultipleVotes: p.AllowMultipleVotes,
		EndDate:            p.EndDate,
	}
}

// CreatePost handles post.create
func (a *EngagementAPI) CreatePost(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		Kind    string      `json:"kind"`
		ClubID  string      `json:"club_id"`
		Content string      `json:"content"`
		Poll    *pollParams `json:"poll"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	in := service.CreatePostInput{
		Kind:    engagement.PostKind(p.Kind),
		ClubID:  p.ClubID,
		Content: p.Content,
	}
	if p.Poll != nil {
		spec := p.Poll.spec()
		in.Poll = &spec
	}
	post, err := a.svc.CreatePost(ctx.Request.Context(), actor, in)
	if err != nil {
		return nil, err
	}
	return objects.Post(post, actor.ID, a.now()), nil
}

// GetPost handles post.get
func (a *EngagementAPI) GetPost(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	viewer := actorFrom(ctx)
	post, err := a.svc.GetPost(ctx.Request.Context(), viewer, p.PostID)
	if err != nil {
		return nil, err
	}
	return objects.Post(post, viewer.ID, a.now()), nil
}

// EditPost handles post.edit
func (a *EngagementAPI) EditPost(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID  string `json:"post_id"`
		Content string `json:"content"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	post, err := a.svc.EditContent(ctx.Request.Context(), actor, p.PostID, p.Content)
	if err != nil {
		return nil, err
	}
	return objects.Post(post, actor.ID, a.now()), nil
}

// DeletePost handles post.delete
func (a *EngagementAPI) DeletePost(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	if err := a.svc.DeletePost(ctx.Request.Context(), actor, p.PostID); err != nil {
		return nil, err
	}
	return gin.H{"deleted": true}, nil
}

// Approve handles post.approve
func (a *EngagementAPI) Approve(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	post, err := a.svc.Approve(ctx.Request.Context(), actor, p.PostID)
	if err != nil {
		return nil, err
	}
	return objects.Post(post, actor.ID, a.now()), nil
}

// Reject handles post.reject
func (a *EngagementAPI) Reject(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID string `json:"post_id"`
		Reason string `json:"reason"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	post, err := a.svc.Reject(ctx.Request.Context(), actor, p.PostID, p.Reason)
	if err != nil {
		return nil, err
	}
	return objects.Post(post, actor.ID, a.now()), nil
}

// ToggleReaction handles reaction.toggle
func (a *EngagementAPI) ToggleReaction(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID string `json:"post_id"`
		Kind   string `json:"kind"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	kind, err := engagement.ParseReactionKind(p.Kind)
	if err != nil {
		return nil, err
	}
	res, err := a.svc.React(ctx.Request.Context(), actor, p.PostID, kind)
	if err != nil {
		return nil, err
	}
	return objects.Reactions(res), nil
}

// ReactionSummary handles reaction.summary
func (a *EngagementAPI) ReactionSummary(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	res, err := a.svc.Reactions(ctx.Request.Context(), actorFrom(ctx), p.PostID)
	if err != nil {
		return nil, err
	}
	return objects.Reactions(res), nil
}

// AddComment handles comment.add
func (a *EngagementAPI) AddComment(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID  string `json:"post_id"`
		Content string `json:"content"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	c, err := a.svc.AddComment(ctx.Request.Context(), actor, p.PostID, p.Content)
	if err != nil {
		return nil, err
	}
	return objects.Comment(c), nil
}

type commentParams struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
}

func (p *commentParams) validate() error {
	if err := requirePostID(p.PostID); err != nil {
		return err
	}
	if p.CommentID == "" {
		return NewError(ErrInvalidParams, "missing required parameter: comment_id")
	}
	return nil
}

// EditComment handles comment.edit
func (a *EngagementAPI) EditComment(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p commentParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	c, err := a.svc.EditComment(ctx.Request.Context(), actor, p.PostID, p.CommentID, p.Content)
	if err != nil {
		return nil, err
	}
	return objects.Comment(c), nil
}

// DeleteComment handles comment.delete
func (a *EngagementAPI) DeleteComment(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p commentParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := a.svc.DeleteComment(ctx.Request.Context(), actor, p.PostID, p.CommentID); err != nil {
		return nil, err
	}
	return gin.H{"deleted": true}, nil
}

// ListComments handles comment.list
func (a *EngagementAPI) ListComments(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		PostID string `json:"post_id"`
		Page   int    `json:"page"`
		Limit  int    `json:"limit"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	page, err := a.svc.ListComments(ctx.Request.Context(), actorFrom(ctx), p.PostID, p.Page, p.Limit)
	if err != nil {
		return nil, err
	}
	return objects.CommentPage(page), nil
}

// CreatePoll handles poll.create
func (a *EngagementAPI) CreatePoll(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID string `json:"post_id"`
		pollParams
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	return a.svc.CreatePoll(ctx.Request.Context(), actor, p.PostID, p.spec())
}

// Vote handles poll.vote
func (a *EngagementAPI) Vote(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID        string `json:"post_id"`
		OptionIndexes []int  `json:"option_indexes"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	return a.svc.Vote(ctx.Request.Context(), actor, p.PostID, p.OptionIndexes)
}

// UpdatePoll handles poll.update
func (a *EngagementAPI) UpdatePoll(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p struct {
		PostID             string     `json:"post_id"`
		Question           *string    `json:"question"`
		Options            []string   `json:"options"`
		AllowMultipleVotes *bool      `json:"allow_multiple_votes"`
		IsActive           *bool      `json:"is_active"`
		EndDate            *time.Time `json:"end_date"`
		ClearEndDate       bool       `json:"clear_end_date"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	return a.svc.UpdatePoll(ctx.Request.Context(), actor, p.PostID, engagement.PollPatch{
		Question:           p.Question,
		Options:            p.Options,
		AllowMultipleVotes: p.AllowMultipleVotes,
		IsActive:           p.IsActive,
		EndDate:            p.EndDate,
		ClearEndDate:       p.ClearEndDate,
	})
}

// DeletePoll handles poll.delete
func (a *EngagementAPI) DeletePoll(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	if err := a.svc.DeletePoll(ctx.Request.Context(), actor, p.PostID); err != nil {
		return nil, err
	}
	return gin.H{"deleted": true}, nil
}

// PollResults handles poll.results
func (a *EngagementAPI) PollResults(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if err := requirePostID(p.PostID); err != nil {
		return nil, err
	}
	return a.svc.PollResults(ctx.Request.Context(), actorFrom(ctx), p.PostID)
}
