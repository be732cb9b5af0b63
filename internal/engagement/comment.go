package engagement

import (
	"sort"
	"strings"
	"time"
)

// Comment is a single entry in a post's thread. It has no existence outside
// the post that owns it.
type Comment struct {
	ID        string    `json:"id" bson:"id"`
	AuthorID  string    `json:"authorId" bson:"author_id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// CommentThread keeps comments in insertion order.
type CommentThread []Comment

func (t CommentThread) index(commentID string) int {
	for i := range t {
		if t[i].ID == commentID {
			return i
		}
	}
	return -1
}

// Find returns the comment with the given id.
func (t CommentThread) Find(commentID string) (Comment, bool) {
	if i := t.index(commentID); i >= 0 {
		return t[i], true
	}
	return Comment{}, false
}

func (t *CommentThread) add(c Comment) {
	*t = append(*t, c)
}

func (t CommentThread) edit(op, commentID, userID, content string, now time.Time) (Comment, error) {
	i := t.index(commentID)
	if i < 0 {
		return Comment{}, notFound(op, "comment not found")
	}
	if t[i].AuthorID != userID {
		return Comment{}, forbidden(op, "only the comment author can edit it")
	}
	t[i].Content = content
	t[i].UpdatedAt = now
	return t[i], nil
}

func (t *CommentThread) remove(commentID string) {
	i := t.index(commentID)
	if i < 0 {
		return
	}
	*t = append((*t)[:i:i], (*t)[i+1:]...)
}

// CommentPage is one page of a thread sorted newest first.
type CommentPage struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"hasMore"`
}

// Page sorts a copy of the thread by recency and slices out page (1-based).
func (t CommentThread) Page(page, limit int) CommentPage {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	sorted := make([]Comment, len(t))
	copy(sorted, t)
	// Later insertions win ties so equal timestamps still read newest first.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	// Bound before multiplying so huge page numbers cannot overflow.
	start := len(sorted)
	if page-1 <= len(sorted)/limit {
		start = min((page-1)*limit, len(sorted))
	}
	end := len(sorted)
	if limit < end-start {
		end = start + limit
	}
	return CommentPage{
		Comments: sorted[start:end],
		Total:    len(sorted),
		Page:     page,
		Limit:    limit,
		HasMore:  end < len(sorted),
	}
}

func normalizeContent(op, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", NewError(CodeEmptyContent, op, "content is empty")
	}
	return content, nil
}
