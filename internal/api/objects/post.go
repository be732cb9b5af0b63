// Package objects renders aggregates into the response objects the JSON-RPC
// API returns. Voter identities and raw reaction maps never leave the server.
package objects

import (
	"encoding/json"
	"time"

	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/models"
)

// Post builds the public object for p as seen by viewerID.
func Post(p *engagement.Post, viewerID string, now time.Time) map[string]interface{} {
	reactions := p.ReactionSummary(viewerID)
	postObj := map[string]interface{}{
		"id":            p.ID,
		"author":        p.AuthorID,
		"kind":          p.Kind,
		"content":       p.Content,
		"status":        p.Status,
		"created":       p.CreatedAt.Format(time.RFC3339),
		"last_update":   p.UpdatedAt.Format(time.RFC3339),
		"version":       p.Version,
		"reactions":     Reactions(reactions),
		"comment_count": len(p.Comments),
	}
	if p.ClubID != "" {
		postObj["club_id"] = p.ClubID
	}
	if p.Poll != nil {
		postObj["poll"] = p.Poll.Results(viewerID, now)
	}

	// Moderation details are only shown where the post is not yet public.
	if p.Status != engagement.StatusApproved {
		if p.RejectReason != "" {
			postObj["reject_reason"] = p.RejectReason
		}
	}
	if p.ModeratedAt != nil {
		postObj["moderated_by"] = p.ModeratedBy
		postObj["moderated_at"] = p.ModeratedAt.Format(time.RFC3339)
	}
	return postObj
}

// Reactions renders a summary with every kind present, zero counts included.
func Reactions(r engagement.ReactionResult) map[string]interface{} {
	counts := make(map[string]int, len(engagement.ReactionKinds))
	for _, k := range engagement.ReactionKinds {
		counts[string(k)] = r.Counts[k]
	}
	obj := map[string]interface{}{
		"counts":        counts,
		"total":         r.Total,
		"user_reaction": nil,
	}
	if r.UserReaction != "" {
		obj["user_reaction"] = r.UserReaction
	}
	if r.Transition != "" {
		obj["transition"] = r.Transition
	}
	return obj
}

// Comment renders a single comment.
func Comment(c engagement.Comment) map[string]interface{} {
	return map[string]interface{}{
		"id":          c.ID,
		"author":      c.AuthorID,
		"content":     c.Content,
		"created":     c.CreatedAt.Format(time.RFC3339),
		"last_update": c.UpdatedAt.Format(time.RFC3339),
	}
}

// CommentPage renders a page of comments.
func CommentPage(page engagement.CommentPage) map[string]interface{} {
	comments := make([]interface{}, 0, len(page.Comments))
	for _, c := range page.Comments {
		comments = append(comments, Comment(c))
	}
	return map[string]interface{}{
		"comments": comments,
		"total":    page.Total,
		"page":     page.Page,
		"limit":    page.Limit,
		"has_more": page.HasMore,
	}
}

// Notification renders a notification row. typeName resolves its numeric type.
func Notification(n *models.Notification, typeName func(int16) string) map[string]interface{} {
	var payload interface{} = map[string]interface{}{}
	if len(n.Payload) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(n.Payload, &decoded); err == nil {
			payload = decoded
		}
	}
	obj := map[string]interface{}{
		"id":      n.ID,
		"type":    typeName(n.Type),
		"actor":   n.ActorID,
		"post_id": n.PostID,
		"payload": payload,
		"date":    n.CreatedAt.Format(time.RFC3339),
		"read":    n.ReadAt.Valid,
	}
	return obj
}
