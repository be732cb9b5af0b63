// Package engagement holds the post engagement aggregate: reactions, comments,
// an optional poll and the moderation state, all mutated as one unit.
//
// Nothing in this package performs I/O. Callers load a Post, apply exactly one
// operation to a private copy and persist that copy atomically; an operation
// that returns an error may leave the copy half-modified, which is why the
// store always discards it.
package engagement

import (
	"strings"
	"time"
)

// Post is the aggregate root.
type Post struct {
	ID           string        `json:"id" bson:"id"`
	AuthorID     string        `json:"authorId" bson:"author_id"`
	Kind         PostKind      `json:"kind" bson:"kind"`
	ClubID       string        `json:"clubId,omitempty" bson:"club_id,omitempty"`
	Content      string        `json:"content" bson:"content"`
	Status       Status        `json:"status" bson:"status"`
	RejectReason string        `json:"rejectReason,omitempty" bson:"reject_reason,omitempty"`
	ModeratedBy  string        `json:"moderatedBy,omitempty" bson:"moderated_by,omitempty"`
	ModeratedAt  *time.Time    `json:"moderatedAt,omitempty" bson:"moderated_at,omitempty"`
	Reactions    ReactionSet   `json:"reactions" bson:"reactions"`
	Comments     CommentThread `json:"comments" bson:"comments"`
	Poll         *Poll         `json:"poll,omitempty" bson:"poll,omitempty"`
	Version      int64         `json:"version" bson:"version"`
	CreatedAt    time.Time     `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updated_at"`
}

// NewPostInput describes a post at creation time.
type NewPostInput struct {
	ID         string
	AuthorID   string
	AuthorRole Role
	Kind       PostKind
	ClubID     string
	Content    string
}

// NewPost validates in and applies the creation policy.
func NewPost(in NewPostInput, now time.Time) (*Post, error) {
	const op = "post.create"
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.AuthorID) == "" {
		return nil, validation(op, "id and author are required")
	}
	if !in.Kind.Valid() {
		return nil, validation(op, "kind must be feed or club")
	}
	clubID := strings.TrimSpace(in.ClubID)
	if in.Kind == KindClub && clubID == "" {
		return nil, validation(op, "club posts need a club")
	}
	if in.Kind == KindFeed && clubID != "" {
		return nil, validation(op, "feed posts cannot reference a club")
	}
	content, err := normalizeContent(op, in.Content)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Post{
		ID:        in.ID,
		AuthorID:  in.AuthorID,
		Kind:      in.Kind,
		ClubID:    clubID,
		Content:   content,
		Status:    InitialStatus(in.Kind, in.AuthorRole),
		Reactions: ReactionSet{},
		Comments:  CommentThread{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy that shares no mutable state with p.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	out := *p
	out.Reactions = p.Reactions.clone()
	out.Comments = append(CommentThread(nil), p.Comments...)
	if out.Comments == nil {
		out.Comments = CommentThread{}
	}
	out.Poll = p.Poll.clone()
	if p.ModeratedAt != nil {
		at := *p.ModeratedAt
		out.ModeratedAt = &at
	}
	return &out
}

// VisibleTo reports whether a reader may see the post. Pending and rejected
// posts stay visible to their author and to moderators.
func (p *Post) VisibleTo(userID string, role Role) bool {
	if p.Status == StatusApproved {
		return true
	}
	return (userID != "" && userID == p.AuthorID) || role.Privileged()
}

// engageable hides non-approved posts behind NotFound so their existence does
// not leak through engagement calls.
func (p *Post) engageable(op string) error {
	if p.Status != StatusApproved {
		return notFound(op, "post not found")
	}
	return nil
}

func (p *Post) touch(now time.Time) {
	p.UpdatedAt = now.UTC()
}

func (p *Post) ownedOrAdmin(userID string, role Role) bool {
	return userID == p.AuthorID || role == RoleAdmin
}

// ReactionResult is returned from React.
type ReactionResult struct {
	Transition   ReactionTransition   `json:"transition"`
	Counts       map[ReactionKind]int `json:"counts"`
	Total        int                  `json:"total"`
	UserReaction ReactionKind         `json:"userReaction,omitempty"`
}

// ReactionSummary computes counts and userID's current reaction.
func (p *Post) ReactionSummary(userID string) ReactionResult {
	return ReactionResult{
		Counts:       p.Reactions.Counts(),
		Total:        len(p.Reactions),
		UserReaction: p.Reactions.Of(userID),
	}
}

// React adds, toggles off or replaces userID's reaction.
func (p *Post) React(userID string, kind ReactionKind, now time.Time) (ReactionResult, *Event, error) {
	const op = "reaction.toggle"
	if err := p.engageable(op); err != nil {
		return ReactionResult{}, nil, err
	}
	if p.Reactions == nil {
		p.Reactions = ReactionSet{}
	}
	out, err := p.Reactions.Toggle(userID, kind)
	if err != nil {
		return ReactionResult{}, nil, err
	}
	p.touch(now)

	var ev *Event
	switch out.Transition {
	case ReactionAdded:
		ev = newEvent(p.ID, userID, notifyOthers(userID, p.AuthorID), ReactionAddedPayload{Reaction: out.Current}, now)
	case ReactionChanged:
		ev = newEvent(p.ID, userID, notifyOthers(userID, p.AuthorID), ReactionChangedPayload{From: out.Previous, To: out.Current}, now)
	case ReactionRemoved:
		ev = newEvent(p.ID, userID, nil, ReactionRemovedPayload{Reaction: out.Previous}, now)
	}
	res := p.ReactionSummary(userID)
	res.Transition = out.Transition
	return res, ev, nil
}

// AddComment appends a comment with a caller-assigned id.
func (p *Post) AddComment(commentID, userID, content string, now time.Time) (Comment, *Event, error) {
	const op = "comment.add"
	if err := p.engageable(op); err != nil {
		return Comment{}, nil, err
	}
	content, err := normalizeContent(op, content)
	if err != nil {
		return Comment{}, nil, err
	}
	if strings.TrimSpace(commentID) == "" {
		return Comment{}, nil, validation(op, "comment id is required")
	}
	if _, exists := p.Comments.Find(commentID); exists {
		return Comment{}, nil, conflict(op, "comment id already used")
	}
	now = now.UTC()
	c := Comment{ID: commentID, AuthorID: userID, Content: content, CreatedAt: now, UpdatedAt: now}
	p.Comments.add(c)
	p.touch(now)
	ev := newEvent(p.ID, userID, notifyOthers(userID, p.AuthorID), PostCommentedPayload{CommentID: commentID}, now)
	return c, ev, nil
}

// EditComment replaces a comment's content. Only its author may do so.
func (p *Post) EditComment(commentID, userID, content string, now time.Time) (Comment, error) {
	const op = "comment.edit"
	if err := p.engageable(op); err != nil {
		return Comment{}, err
	}
	if _, ok := p.Comments.Find(commentID); !ok {
		return Comment{}, notFound(op, "comment not found")
	}
	content, err := normalizeContent(op, content)
	if err != nil {
		return Comment{}, err
	}
	c, err := p.Comments.edit(op, commentID, userID, content, now.UTC())
	if err != nil {
		return Comment{}, err
	}
	p.touch(now)
	return c, nil
}

// DeleteComment removes a comment. The comment author, the post author and
// moderators may delete.
func (p *Post) DeleteComment(commentID, userID string, role Role) error {
	const op = "comment.delete"
	if err := p.engageable(op); err != nil {
		return err
	}
	c, ok := p.Comments.Find(commentID)
	if !ok {
		return notFound(op, "comment not found")
	}
	if c.AuthorID != userID && p.AuthorID != userID && !role.Privileged() {
		return forbidden(op, "not allowed to delete this comment")
	}
	p.Comments.remove(commentID)
	return nil
}

// CreatePoll embeds a new poll. A post carries at most one.
func (p *Post) CreatePoll(requesterID string, role Role, spec PollSpec, now time.Time) (*Poll, error) {
	const op = "poll.create"
	options, err := buildOptions(op, spec.Options)
	if err != nil {
		return nil, err
	}
	question, err := validateQuestion(op, spec.Question)
	if err != nil {
		return nil, err
	}
	if !p.ownedOrAdmin(requesterID, role) {
		return nil, forbidden(op, "only the post author or an admin can add a poll")
	}
	if p.Poll != nil {
		return nil, conflict(op, "post already has a poll")
	}
	if err := validateEndDate(op, spec.EndDate, now); err != nil {
		return nil, err
	}
	var end *time.Time
	if spec.EndDate != nil {
		e := spec.EndDate.UTC()
		end = &e
	}
	p.Poll = &Poll{
		Question:           question,
		Options:            options,
		AllowMultipleVotes: spec.AllowMultipleVotes,
		EndDate:            end,
		IsActive:           true,
		Ballots:            map[string][]int{},
		CreatedAt:          now.UTC(),
	}
	p.touch(now)
	return p.Poll, nil
}

// Vote records userID's single ballot.
func (p *Post) Vote(userID string, indexes []int, now time.Time) (PollResults, *Event, error) {
	const op = "poll.vote"
	if err := p.engageable(op); err != nil {
		return PollResults{}, nil, err
	}
	if p.Poll == nil {
		return PollResults{}, nil, notFound(op, "poll not found")
	}
	if err := p.Poll.vote(op, userID, indexes, now); err != nil {
		return PollResults{}, nil, err
	}
	p.touch(now)
	picks := append([]int(nil), indexes...)
	ev := newEvent(p.ID, userID, notifyOthers(userID, p.AuthorID), PollVotedPayload{OptionIndexes: picks}, now)
	return p.Poll.Results(userID, now), ev, nil
}

// UpdatePoll applies patch. Option data is locked once any vote exists.
func (p *Post) UpdatePoll(requesterID string, role Role, patch PollPatch, now time.Time) (*Poll, error) {
	const op = "poll.update"
	if p.Poll == nil {
		return nil, notFound(op, "poll not found")
	}
	if !p.ownedOrAdmin(requesterID, role) {
		return nil, forbidden(op, "only the post author or an admin can update the poll")
	}
	if err := p.Poll.update(op, patch, now); err != nil {
		return nil, err
	}
	p.touch(now)
	return p.Poll, nil
}

// DeletePoll clears the embedded poll; the post survives.
func (p *Post) DeletePoll(requesterID string, role Role, now time.Time) error {
	const op = "poll.delete"
	if p.Poll == nil {
		return notFound(op, "poll not found")
	}
	if !p.ownedOrAdmin(requesterID, role) {
		return forbidden(op, "only the post author or an admin can delete the poll")
	}
	p.Poll = nil
	p.touch(now)
	return nil
}

// PollResults returns the read view of the poll.
func (p *Post) PollResults(viewerID string, now time.Time) (PollResults, error) {
	if p.Poll == nil {
		return PollResults{}, notFound("poll.results", "poll not found")
	}
	return p.Poll.Results(viewerID, now), nil
}

func (p *Post) moderate(op, moderatorID string, role Role, to Status, now time.Time) error {
	if !role.Privileged() {
		return forbidden(op, "moderator role required")
	}
	if p.Status != StatusPending {
		return invalidTransition(op, p.Status)
	}
	at := now.UTC()
	p.Status = to
	p.ModeratedBy = moderatorID
	p.ModeratedAt = &at
	p.touch(now)
	return nil
}

// Approve moves a pending post to approved.
func (p *Post) Approve(moderatorID string, role Role, now time.Time) (*Event, error) {
	if err := p.moderate("post.approve", moderatorID, role, StatusApproved, now); err != nil {
		return nil, err
	}
	return newEvent(p.ID, moderatorID, []string{p.AuthorID}, PostApprovedPayload{}, now), nil
}

// Reject moves a pending post to rejected. There is no way back.
func (p *Post) Reject(moderatorID string, role Role, reason string, now time.Time) (*Event, error) {
	if err := p.moderate("post.reject", moderatorID, role, StatusRejected, now); err != nil {
		return nil, err
	}
	p.RejectReason = strings.TrimSpace(reason)
	return newEvent(p.ID, moderatorID, []string{p.AuthorID}, PostRejectedPayload{Reason: p.RejectReason}, now), nil
}

// EditContent replaces the body. Only the author may edit.
func (p *Post) EditContent(userID, content string, now time.Time) error {
	const op = "post.edit"
	if userID != p.AuthorID {
		return forbidden(op, "only the author can edit the post")
	}
	content, err := normalizeContent(op, content)
	if err != nil {
		return err
	}
	p.Content = content
	p.touch(now)
	return nil
}

// AuthorizeDelete checks that userID may delete the whole post.
func (p *Post) AuthorizeDelete(userID string, role Role) error {
	if !p.ownedOrAdmin(userID, role) {
		return forbidden("post.delete", "only the author or an admin can delete the post")
	}
	return nil
}
