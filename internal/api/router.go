package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/cache"
	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/service"
	"github.com/unicom/engagement/pkg/logging"
)

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	svc     *service.Service
	db      *db.DB
	cache   *cache.Cache
	metrics bool
	logger  *zap.Logger
}

// Options configures optional router collaborators. DB enables the
// notification methods; Metrics exposes /metrics.
type Options struct {
	DB      *db.DB
	Cache   *cache.Cache
	Metrics bool
	Clock   func() time.Time
}

// NewRouter creates a new API router
func NewRouter(svc *service.Service, opts Options) *Router {
	handler := NewJSONRPCHandler()
	router := &Router{
		handler: handler,
		svc:     svc,
		db:      opts.DB,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  logging.WithComponent("api-router"),
	}

	// Register all API methods
	router.registerMethods(opts.Clock)
	router.logger.Info("JSON-RPC methods registered", zap.Strings("methods", handler.Methods()))

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	if r.metrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// JSON-RPC endpoint
	engine.POST("/", ActorMiddleware(), r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods(clock func() time.Time) {
	eng := NewEngagementAPI(r.svc, clock)

	// Posts and moderation
	r.handler.RegisterMethod("post.create", eng.CreatePost)
	r.handler.RegisterMethod("post.get", eng.GetPost)
	r.handler.RegisterMethod("post.edit", eng.EditPost)
	r.handler.RegisterMethod("post.delete", eng.DeletePost)
	r.handler.RegisterMethod("post.approve", eng.Approve)
	r.handler.RegisterMethod("post.reject", eng.Reject)

	// Reactions
	r.handler.RegisterMethod("reaction.toggle", eng.ToggleReaction)
	r.handler.RegisterMethod("reaction.summary", eng.ReactionSummary)

	// Comments
	r.handler.RegisterMethod("comment.add", eng.AddComment)
	r.handler.RegisterMethod("comment.edit", eng.EditComment)
	r.handler.RegisterMethod("comment.delete", eng.DeleteComment)
	r.handler.RegisterMethod("comment.list", eng.ListComments)

	// Polls
	r.handler.RegisterMethod("poll.create", eng.CreatePoll)
	r.handler.RegisterMethod("poll.vote", eng.Vote)
	r.handler.RegisterMethod("poll.update", eng.UpdatePoll)
	r.handler.RegisterMethod("poll.delete", eng.DeletePoll)
	r.handler.RegisterMethod("poll.results", eng.PollResults)

	// Notification API
	if r.db != nil {
		notifications := NewNotificationAPI(db.NewRepository(r.db.DB), clock)
		r.handler.RegisterMethod("notification.list", notifications.List)
		r.handler.RegisterMethod("notification.unread", notifications.Unread)
		r.handler.RegisterMethod("notification.mark_read", notifications.MarkRead)
	}
}

// healthHandler reports OK unless a configured dependency is unreachable.
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if r.db != nil {
		checks["database"] = "ok"
		if err := r.db.Health(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}
	if err := r.cache.Health(ctx); err == nil {
		checks["redis"] = "ok"
	} else if !errors.Is(err, cache.ErrCacheDisabled) {
		checks["redis"] = err.Error()
		healthy = false
	}

	status, code := "OK", http.StatusOK
	if !healthy {
		status, code = "DEGRADED", http.StatusServiceUnavailable
		r.logger.Warn("Health check failed", zap.Any("checks", checks))
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "engagement-api",
		"checks":  checks,
	})
}
