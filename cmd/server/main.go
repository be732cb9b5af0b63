package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/api"
	"github.com/unicom/engagement/internal/cache"
	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/events"
	"github.com/unicom/engagement/internal/service"
	"github.com/unicom/engagement/internal/store"
	"github.com/unicom/engagement/pkg/config"
	"github.com/unicom/engagement/pkg/logging"
	"github.com/unicom/engagement/pkg/telemetry"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting engagement API server", zap.String("store", cfg.Store.Driver))

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	hooks, err := store.NewMeterHooks(telemetry.Meter())
	if err != nil {
		logger.Fatal("Failed to create store metrics", zap.Error(err))
	}
	runner := store.NewRunner(store.PolicyFromConfig(&cfg.Store), hooks, logging.WithComponent("store"))

	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if database != nil {
		if err := database.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	st, err := openStore(cfg, database, runner)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	var sink events.Sink = events.NewLogSink(logging.WithComponent("events"))
	if redisCache != nil {
		sink = events.MultiSink{
			events.NewRedisSink(redisCache.Client(), cfg.Redis.Stream, cfg.Redis.StreamMaxLen),
			sink,
		}
	}
	dispatcher := events.NewDispatcher(sink, cfg.Engagement.EventBuffer, logging.WithComponent("events"))

	svc := service.New(st, dispatcher, service.Options{
		Limits:   cfg.Engagement,
		Cache:    redisCache,
		CacheTTL: cfg.Redis.CacheTTL,
	})

	// Create Gin router
	if strings.EqualFold(cfg.Logging.Level, "DEBUG") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	api.NewRouter(svc, api.Options{
		DB:      database,
		Cache:   redisCache,
		Metrics: cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled,
	}).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Flush events committed before shutdown.
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("Event dispatcher did not drain", zap.Error(err))
	}
	logger.Info("Event dispatcher stopped",
		zap.Int64("dropped", dispatcher.Dropped()),
		zap.Int64("failed", dispatcher.Failed()))

	if err := st.Close(ctx); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}
	if err := redisCache.Close(); err != nil {
		logger.Error("Failed to close Redis", zap.Error(err))
	}
	if database != nil {
		if err := database.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore selects the aggregate store named by the configuration.
func openStore(cfg *config.Config, database *db.DB, runner *store.Runner) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logging.GetLogger().Warn("Using in-memory store; data is lost on restart")
		return store.NewMemory(runner), nil
	case "postgres", "sqlite":
		if database == nil {
			return nil, fmt.Errorf("%s store needs a database connection", cfg.Store.Driver)
		}
		return store.NewGorm(database.DB, runner), nil
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return store.ConnectMongo(ctx, cfg.Store.MongoURL, cfg.Store.MongoDatabase, runner)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
