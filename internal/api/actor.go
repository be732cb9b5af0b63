package api

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/unicom/engagement/internal/engagement"
	"github.com/unicom/engagement/internal/service"
)

// Identity headers are set by the authenticating gateway in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	actorKey = "engagement.actor"
)

// ActorMiddleware resolves the caller from the identity headers. Requests
// without a user id are anonymous readers.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(actorKey, service.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role: engagement.ParseRole(c.GetHeader(HeaderUserRole)),
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.Actor{Role: engagement.RoleUser}
}

// requireActor rejects anonymous callers of mutating methods.
func requireActor(c *gin.Context) (service.Actor, error) {
	a := actorFrom(c)
	if a.ID == "" {
		return a, NewError(ErrUnauthorized, "authentication required")
	}
	return a, nil
}

// bindParams decodes named params into dst.
func bindParams(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return NewError(ErrInvalidParams, "missing parameters")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return NewError(ErrInvalidParams, "invalid parameters format")
	}
	return nil
}

func requirePostID(postID string) error {
	if strings.TrimSpace(postID) == "" {
		return NewError(ErrInvalidParams, "missing required parameter: post_id")
	}
	return nil
}
