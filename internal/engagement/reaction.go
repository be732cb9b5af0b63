package engagement

import (
	"fmt"
	"strings"
)

// ReactionKind is the closed set of reactions a user can leave on a post.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionLove    ReactionKind = "love"
	ReactionDislike ReactionKind = "dislike"
	ReactionLaugh   ReactionKind = "laugh"
)

// ReactionKinds lists every valid kind in display order.
var ReactionKinds = []ReactionKind{ReactionLike, ReactionLove, ReactionDislike, ReactionLaugh}

// ParseReactionKind normalises s and rejects anything outside the closed set.
func ParseReactionKind(s string) (ReactionKind, error) {
	k := ReactionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", NewError(CodeInvalidKind, "reaction.parse", fmt.Sprintf("unknown reaction kind %q", s))
	}
	return k, nil
}

func (k ReactionKind) Valid() bool {
	switch k {
	case ReactionLike, ReactionLove, ReactionDislike, ReactionLaugh:
		return true
	}
	return false
}

// ReactionTransition describes what a toggle call did to the caller's reaction.
type ReactionTransition string

const (
	ReactionAdded   ReactionTransition = "added"
	ReactionRemoved ReactionTransition = "removed"
	ReactionChanged ReactionTransition = "changed"
)

// ReactionSet maps a user identity to that user's single reaction. Keying by
// user makes the one-reaction-per-user rule structural.
type ReactionSet map[string]ReactionKind

// ReactionOutcome is the result of a single toggle.
type ReactionOutcome struct {
	Transition ReactionTransition
	Previous   ReactionKind
	Current    ReactionKind // empty after a toggle-off
}

// Toggle applies the add / toggle-off / replace rules for userID.
func (s ReactionSet) Toggle(userID string, kind ReactionKind) (ReactionOutcome, error) {
	if !kind.Valid() {
		return ReactionOutcome{}, NewError(CodeInvalidKind, "reaction.toggle", fmt.Sprintf("unknown reaction kind %q", kind))
	}
	prev, ok := s[userID]
	switch {
	case !ok:
		s[userID] = kind
		return ReactionOutcome{Transition: ReactionAdded, Current: kind}, nil
	case prev == kind:
		delete(s, userID)
		return ReactionOutcome{Transition: ReactionRemoved, Previous: prev}, nil
	default:
		s[userID] = kind
		return ReactionOutcome{Transition: ReactionChanged, Previous: prev, Current: kind}, nil
	}
}

// Of returns userID's reaction, or "" when the user has none.
func (s ReactionSet) Of(userID string) ReactionKind {
	if userID == "" {
		return ""
	}
	return s[userID]
}

// Counts returns a count for every kind, including zero entries.
func (s ReactionSet) Counts() map[ReactionKind]int {
	out := make(map[ReactionKind]int, len(ReactionKinds))
	for _, k := range ReactionKinds {
		out[k] = 0
	}
	for _, k := range s {
		out[k]++
	}
	return out
}

func (s ReactionSet) clone() ReactionSet {
	out := make(ReactionSet, len(s))
	for u, k := range s {
		out[u] = k
	}
	return out
}
