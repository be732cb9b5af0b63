package engagement

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a committed state transition.
type EventKind string

const (
	EventReactionAdded   EventKind = "reaction_added"
	EventReactionRemoved EventKind = "reaction_removed"
	EventReactionChanged EventKind = "reaction_changed"
	EventPostCommented   EventKind = "post_commented"
	EventPollVoted       EventKind = "poll_voted"
	EventPostApproved    EventKind = "post_approved"
	EventPostRejected    EventKind = "post_rejected"
)

// Payload is implemented only by the payload types in this package, so a type
// switch over it is exhaustive.
type Payload interface {
	Kind() EventKind
	sealed()
}

type ReactionAddedPayload struct {
	Reaction ReactionKind `json:"reaction"`
}

type ReactionRemovedPayload struct {
	Reaction ReactionKind `json:"reaction"`
}

type ReactionChangedPayload struct {
	From ReactionKind `json:"from"`
	To   ReactionKind `json:"to"`
}

type PostCommentedPayload struct {
	CommentID string `json:"commentId"`
}

type PollVotedPayload struct {
	OptionIndexes []int `json:"optionIndexes"`
}

type PostApprovedPayload struct{}

type PostRejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (ReactionAddedPayload) Kind() EventKind   { return EventReactionAdded }
func (ReactionRemovedPayload) Kind() EventKind { return EventReactionRemoved }
func (ReactionChangedPayload) Kind() EventKind { return EventReactionChanged }
func (PostCommentedPayload) Kind() EventKind   { return EventPostCommented }
func (PollVotedPayload) Kind() EventKind       { return EventPollVoted }
func (PostApprovedPayload) Kind() EventKind    { return EventPostApproved }
func (PostRejectedPayload) Kind() EventKind    { return EventPostRejected }

func (ReactionAddedPayload) sealed()   {}
func (ReactionRemovedPayload) sealed() {}
func (ReactionChangedPayload) sealed() {}
func (PostCommentedPayload) sealed()   {}
func (PollVotedPayload) sealed()       {}
func (PostApprovedPayload) sealed()    {}
func (PostRejectedPayload) sealed()    {}

// Event is emitted once per successful mutation. TargetUserIDs lists who should
// be notified; it is empty when the only interested user is the actor.
type Event struct {
	ID            string
	PostID        string
	ActorID       string
	TargetUserIDs []string
	Payload       Payload
	OccurredAt    time.Time
}

// Kind returns the payload's kind, or "" for a zero Event.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

func newEvent(postID, actorID string, targets []string, p Payload, now time.Time) *Event {
	if targets == nil {
		targets = []string{}
	}
	return &Event{
		PostID:        postID,
		ActorID:       actorID,
		TargetUserIDs: targets,
		Payload:       p,
		OccurredAt:    now,
	}
}

// notifyOthers returns [target] unless the target is the actor.
func notifyOthers(actorID, target string) []string {
	if target == "" || target == actorID {
		return []string{}
	}
	return []string{target}
}

type eventEnvelope struct {
	ID            string          `json:"id"`
	Kind          EventKind       `json:"kind"`
	PostID        string          `json:"postId"`
	ActorID       string          `json:"actorId"`
	TargetUserIDs []string        `json:"targetUserIds"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		ID:            e.ID,
		Kind:          e.Payload.Kind(),
		PostID:        e.PostID,
		ActorID:       e.ActorID,
		TargetUserIDs: e.TargetUserIDs,
		Payload:       raw,
		OccurredAt:    e.OccurredAt,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var p Payload
	switch env.Kind {
	case EventReactionAdded:
		p = &ReactionAddedPayload{}
	case EventReactionRemoved:
		p = &ReactionRemovedPayload{}
	case EventReactionChanged:
		p = &ReactionChangedPayload{}
	case EventPostCommented:
		p = &PostCommentedPayload{}
	case EventPollVoted:
		p = &PollVotedPayload{}
	case EventPostApproved:
		p = &PostApprovedPayload{}
	case EventPostRejected:
		p = &PostRejectedPayload{}
	default:
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}
	*e = Event{
		ID:            env.ID,
		PostID:        env.PostID,
		ActorID:       env.ActorID,
		TargetUserIDs: env.TargetUserIDs,
		Payload:       derefPayload(p),
		OccurredAt:    env.OccurredAt,
	}
	return nil
}

// derefPayload returns payloads by value so decoded events compare equal to
// the ones the aggregate built.
func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *ReactionAddedPayload:
		return *v
	case *ReactionRemovedPayload:
		return *v
	case *ReactionChangedPayload:
		return *v
	case *PostCommentedPayload:
		return *v
	case *PollVotedPayload:
		return *v
	case *PostApprovedPayload:
		return *v
	case *PostRejectedPayload:
		return *v
	}
	return p
}
