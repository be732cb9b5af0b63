package engagement

import "strings"

// Status is the moderation state of a post.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Role is the requester's platform role as resolved by the caller.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole maps unknown or empty values to RoleUser.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleModerator, RoleAdmin:
		return r
	default:
		return RoleUser
	}
}

// Privileged reports whether r may moderate content.
func (r Role) Privileged() bool {
	return r == RoleModerator || r == RoleAdmin
}

// PostKind distinguishes the campus feed from club boards.
type PostKind string

const (
	KindFeed PostKind = "feed"
	KindClub PostKind = "club"
)

func (k PostKind) Valid() bool {
	return k == KindFeed || k == KindClub
}

// InitialStatus is the creation policy. It is evaluated once when the post is
// created and never again.
func InitialStatus(kind PostKind, authorRole Role) Status {
	if kind == KindClub || authorRole.Privileged() {
		return StatusApproved
	}
	return StatusPending
}
