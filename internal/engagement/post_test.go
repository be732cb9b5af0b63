package engagement

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"
)

func pendingPost(t *testing.T) *Post {
	t.Helper()
	p, err := NewPost(NewPostInput{ID: "p2", AuthorID: "author", AuthorRole: RoleUser, Kind: KindFeed, Content: "hi"}, t0)
	if err != nil {
		t.Fatalf("NewPost() error = %v", err)
	}
	return p
}

func TestNewPost(t *testing.T) {
	tests := []struct {
		name   string
		in     NewPostInput
		status Status
		code   Code
	}{
		{"user feed post is pending", NewPostInput{ID: "p", AuthorID: "a", AuthorRole: RoleUser, Kind: KindFeed, Content: "x"}, StatusPending, ""},
		{"moderator feed post is approved", NewPostInput{ID: "p", AuthorID: "a", AuthorRole: RoleModerator, Kind: KindFeed, Content: "x"}, StatusApproved, ""},
		{"admin feed post is approved", NewPostInput{ID: "p", AuthorID: "a", AuthorRole: RoleAdmin, Kind: KindFeed, Content: "x"}, StatusApproved, ""},
		{"club post is approved", NewPostInput{ID: "p", AuthorID: "a", AuthorRole: RoleUser, Kind: KindClub, ClubID: "c", Content: "x"}, StatusApproved, ""},
		{"club post without club", NewPostInput{ID: "p", AuthorID: "a", Kind: KindClub, Content: "x"}, "", CodeValidation},
		{"feed post with club", NewPostInput{ID: "p", AuthorID: "a", Kind: KindFeed, ClubID: "c", Content: "x"}, "", CodeValidation},
		{"unknown kind", NewPostInput{ID: "p", AuthorID: "a", Kind: "blog", Content: "x"}, "", CodeValidation},
		{"blank content", NewPostInput{ID: "p", AuthorID: "a", Kind: KindFeed, Content: " \n"}, "", CodeEmptyContent},
		{"missing author", NewPostInput{ID: "p", Kind: KindFeed, Content: "x"}, "", CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPost(tt.in, t0)
			if CodeOf(err) != tt.code {
				t.Fatalf("NewPost() code = %v, want %v", CodeOf(err), tt.code)
			}
			if err == nil && p.Status != tt.status {
				t.Errorf("status = %v, want %v", p.Status, tt.status)
			}
		})
	}
}

func TestEngagementRequiresApproval(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			p := approvedPost(t)
			if _, err := p.CreatePoll("author", RoleUser, PollSpec{Question: "q", Options: []string{"A", "B"}}, t0); err != nil {
				t.Fatalf("CreatePoll() error = %v", err)
			}
			p.Comments.add(Comment{ID: "c1", AuthorID: "u1", Content: "x", CreatedAt: t0})
			p.Status = status

			if _, _, err := p.React("u1", ReactionLike, t0); !IsCode(err, CodeNotFound) {
				t.Errorf("React() error = %v, want not_found", err)
			}
			if _, _, err := p.AddComment("c2", "u1", "hi", t0); !IsCode(err, CodeNotFound) {
				t.Errorf("AddComment() error = %v, want not_found", err)
			}
			if _, err := p.EditComment("c1", "u1", "edited", t0); !IsCode(err, CodeNotFound) {
				t.Errorf("EditComment() error = %v, want not_found", err)
			}
			if err := p.DeleteComment("c1", "u1", RoleUser); !IsCode(err, CodeNotFound) {
				t.Errorf("DeleteComment() error = %v, want not_found", err)
			}
			if _, _, err := p.Vote("u1", []int{0}, t0); !IsCode(err, CodeNotFound) {
				t.Errorf("Vote() error = %v, want not_found", err)
			}
		})
	}
}

func TestReact_AuthorToggle(t *testing.T) {
	p := approvedPost(t)

	res, ev, err := p.React("author", ReactionLike, t0)
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if res.Counts[ReactionLike] != 1 || res.UserReaction != ReactionLike || res.Transition != ReactionAdded {
		t.Errorf("first React() = %+v", res)
	}
	if ev.Kind() != EventReactionAdded || len(ev.TargetUserIDs) != 0 {
		t.Errorf("first event = %+v, want reaction_added without targets", ev)
	}

	res, ev, err = p.React("author", ReactionLike, t0)
	if err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if res.Counts[ReactionLike] != 0 || res.UserReaction != "" || res.Transition != ReactionRemoved {
		t.Errorf("second React() = %+v", res)
	}
	if ev.Kind() != EventReactionRemoved || len(ev.TargetUserIDs) != 0 {
		t.Errorf("second event = %+v, want reaction_removed without targets", ev)
	}
}

func TestReact_Events(t *testing.T) {
	p := approvedPost(t)

	_, ev, _ := p.React("u1", ReactionLike, t0)
	if !reflect.DeepEqual(ev.TargetUserIDs, []string{"author"}) {
		t.Errorf("added targets = %v", ev.TargetUserIDs)
	}
	_, ev, _ = p.React("u1", ReactionLove, t0)
	want := ReactionChangedPayload{From: ReactionLike, To: ReactionLove}
	if ev.Payload != want || !reflect.DeepEqual(ev.TargetUserIDs, []string{"author"}) {
		t.Errorf("changed event = %+v", ev)
	}
	if len(p.Reactions) != 1 {
		t.Errorf("reactions = %v, want one entry", p.Reactions)
	}
	_, ev, _ = p.React("u1", ReactionLove, t0)
	if ev.Kind() != EventReactionRemoved || len(ev.TargetUserIDs) != 0 {
		t.Errorf("removed event = %+v", ev)
	}
}

func TestComments(t *testing.T) {
	p := approvedPost(t)

	c, ev, err := p.AddComment("c1", "u1", "  first  ", t0)
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if c.Content != "first" || ev.Kind() != EventPostCommented || !reflect.DeepEqual(ev.TargetUserIDs, []string{"author"}) {
		t.Errorf("comment = %+v, event = %+v", c, ev)
	}
	if _, _, err := p.AddComment("c2", "u1", "   ", t0); !IsCode(err, CodeEmptyContent) {
		t.Errorf("blank AddComment() error = %v", err)
	}
	if _, _, err := p.AddComment("c1", "u2", "dup", t0); !IsCode(err, CodeConflict) {
		t.Errorf("duplicate id AddComment() error = %v", err)
	}
	_, ev, _ = p.AddComment("c3", "author", "self", t0.Add(time.Minute))
	if len(ev.TargetUserIDs) != 0 {
		t.Errorf("self comment targets = %v", ev.TargetUserIDs)
	}

	later := t0.Add(time.Hour)
	if _, err := p.EditComment("c1", "u2", "hijack", later); !IsCode(err, CodeForbidden) {
		t.Errorf("EditComment(stranger) error = %v", err)
	}
	if _, err := p.EditComment("missing", "u1", "x", later); !IsCode(err, CodeNotFound) {
		t.Errorf("EditComment(missing) error = %v", err)
	}
	edited, err := p.EditComment("c1", "u1", "second", later)
	if err != nil || edited.Content != "second" || !edited.UpdatedAt.Equal(later) || !edited.CreatedAt.Equal(t0) {
		t.Errorf("EditComment() = %+v, %v", edited, err)
	}
}

func TestDeleteComment(t *testing.T) {
	tests := []struct {
		name string
		user string
		role Role
		code Code
	}{
		{"comment author", "u1", RoleUser, ""},
		{"post author", "author", RoleUser, ""},
		{"moderator", "m1", RoleModerator, ""},
		{"admin", "a1", RoleAdmin, ""},
		{"stranger", "u2", RoleUser, CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := approvedPost(t)
			if _, _, err := p.AddComment("c1", "u1", "x", t0); err != nil {
				t.Fatalf("AddComment() error = %v", err)
			}
			err := p.DeleteComment("c1", tt.user, tt.role)
			if CodeOf(err) != tt.code {
				t.Fatalf("DeleteComment() code = %v, want %v", CodeOf(err), tt.code)
			}
			_, still := p.Comments.Find("c1")
			if still != (tt.code != "") {
				t.Errorf("comment present = %v", still)
			}
		})
	}

	p := approvedPost(t)
	if err := p.DeleteComment("nope", "author", RoleAdmin); !IsCode(err, CodeNotFound) {
		t.Errorf("DeleteComment(missing) error = %v", err)
	}
}

func TestCommentThread_Page(t *testing.T) {
	var thread CommentThread
	for i := 0; i < 5; i++ {
		thread.add(Comment{ID: string(rune('a' + i)), CreatedAt: t0.Add(time.Duration(i) * time.Minute)})
	}
	thread.add(Comment{ID: "f", CreatedAt: t0.Add(4 * time.Minute)})

	tests := []struct {
		name    string
		page    int
		limit   int
		ids     []string
		hasMore bool
	}{
		{"first page", 1, 2, []string{"f", "e"}, true},
		{"second page", 2, 2, []string{"d", "c"}, true},
		{"last page", 3, 2, []string{"b", "a"}, false},
		{"past the end", 9, 2, []string{}, false},
		{"zero page clamps", 0, 10, []string{"f", "e", "d", "c", "b", "a"}, false},
		{"huge page", 1 << 62, 100, []string{}, false},
		{"huge limit", 2, math.MaxInt, []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := thread.Page(tt.page, tt.limit)
			ids := make([]string, 0, len(pg.Comments))
			for _, c := range pg.Comments {
				ids = append(ids, c.ID)
			}
			if !reflect.DeepEqual(ids, tt.ids) {
				t.Errorf("ids = %v, want %v", ids, tt.ids)
			}
			if pg.Total != 6 || pg.HasMore != tt.hasMore {
				t.Errorf("total=%d hasMore=%v", pg.Total, pg.HasMore)
			}
		})
	}
	if thread[0].ID != "a" {
		t.Errorf("Page reordered storage: first = %s", thread[0].ID)
	}
}

func TestModeration(t *testing.T) {
	t.Run("approve pending", func(t *testing.T) {
		p := pendingPost(t)
		ev, err := p.Approve("mod", RoleModerator, t0)
		if err != nil {
			t.Fatalf("Approve() error = %v", err)
		}
		if p.Status != StatusApproved || p.ModeratedBy != "mod" || p.ModeratedAt == nil {
			t.Errorf("post = %+v", p)
		}
		if ev.Kind() != EventPostApproved || !reflect.DeepEqual(ev.TargetUserIDs, []string{"author"}) {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("reject pending", func(t *testing.T) {
		p := pendingPost(t)
		ev, err := p.Reject("adm", RoleAdmin, " spam ", t0)
		if err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if p.Status != StatusRejected || p.RejectReason != "spam" {
			t.Errorf("post = %+v", p)
		}
		if ev.Payload != (PostRejectedPayload{Reason: "spam"}) {
			t.Errorf("payload = %+v", ev.Payload)
		}
	})

	tests := []struct {
		name   string
		from   Status
		role   Role
		reject bool
		code   Code
	}{
		{"user cannot approve", StatusPending, RoleUser, false, CodeForbidden},
		{"user cannot reject", StatusPending, RoleUser, true, CodeForbidden},
		{"approve approved", StatusApproved, RoleAdmin, false, CodeInvalidTransition},
		{"reject approved", StatusApproved, RoleAdmin, true, CodeInvalidTransition},
		{"approve rejected", StatusRejected, RoleModerator, false, CodeInvalidTransition},
		{"reject rejected", StatusRejected, RoleModerator, true, CodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pendingPost(t)
			p.Status = tt.from
			var err error
			if tt.reject {
				_, err = p.Reject("x", tt.role, "", t0)
			} else {
				_, err = p.Approve("x", tt.role, t0)
			}
			if CodeOf(err) != tt.code {
				t.Errorf("code = %v, want %v", CodeOf(err), tt.code)
			}
			if p.Status != tt.from {
				t.Errorf("status changed to %v", p.Status)
			}
		})
	}
}

func TestVisibleTo(t *testing.T) {
	p := pendingPost(t)
	tests := []struct {
		name string
		user string
		role Role
		want bool
	}{
		{"author", "author", RoleUser, true},
		{"stranger", "u1", RoleUser, false},
		{"anonymous", "", RoleUser, false},
		{"moderator", "m", RoleModerator, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.VisibleTo(tt.user, tt.role); got != tt.want {
				t.Errorf("VisibleTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEditContentAndDelete(t *testing.T) {
	p := pendingPost(t)
	if err := p.EditContent("u1", "x", t0); !IsCode(err, CodeForbidden) {
		t.Errorf("EditContent(stranger) error = %v", err)
	}
	if err := p.EditContent("author", "  ", t0); !IsCode(err, CodeEmptyContent) {
		t.Errorf("EditContent(blank) error = %v", err)
	}
	if err := p.EditContent("author", "new body", t0.Add(time.Minute)); err != nil || p.Content != "new body" {
		t.Errorf("EditContent() = %v, content %q", err, p.Content)
	}
	if err := p.AuthorizeDelete("m", RoleModerator); !IsCode(err, CodeForbidden) {
		t.Errorf("AuthorizeDelete(moderator) error = %v", err)
	}
	if err := p.AuthorizeDelete("a", RoleAdmin); err != nil {
		t.Errorf("AuthorizeDelete(admin) error = %v", err)
	}
}

func TestClone_Independent(t *testing.T) {
	p := withPoll(t, false)
	p.React("u1", ReactionLike, t0)
	p.AddComment("c1", "u1", "x", t0)

	c := p.Clone()
	c.React("u2", ReactionLaugh, t0)
	c.AddComment("c2", "u2", "y", t0)
	c.Vote("u2", []int{1}, t0)
	c.Comments[0].Content = "changed"

	if len(p.Reactions) != 1 || len(p.Comments) != 1 || p.Poll.TotalVotes != 0 || len(p.Poll.Options[1].Voters) != 0 {
		t.Errorf("original mutated through clone: %+v", p)
	}
	if p.Comments[0].Content != "x" {
		t.Errorf("comment mutated through clone")
	}
}

func TestEventJSON(t *testing.T) {
	p := withPoll(t, false)
	_, ev, err := p.Vote("u1", []int{1}, t0)
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	ev.ID = "evt-1"

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(*ev, decoded) {
		t.Errorf("decoded = %+v, want %+v", decoded, *ev)
	}

	if err := json.Unmarshal([]byte(`{"kind":"post_shared"}`), &decoded); err == nil {
		t.Errorf("Unmarshal(unknown kind) succeeded")
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name  string
		code  Code
		query Code
		want  bool
	}{
		{"exact", CodeForbidden, CodeForbidden, true},
		{"already voted is conflict", CodeAlreadyVoted, CodeConflict, true},
		{"empty content is validation", CodeEmptyContent, CodeValidation, true},
		{"multi vote is validation", CodeMultiVoteNotAllowed, CodeValidation, true},
		{"conflict is not already voted", CodeConflict, CodeAlreadyVoted, false},
		{"not found is not forbidden", CodeNotFound, CodeForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(NewError(tt.code, "op", "msg"), tt.query); got != tt.want {
				t.Errorf("IsCode(%v, %v) = %v, want %v", tt.code, tt.query, got, tt.want)
			}
		})
	}
}
