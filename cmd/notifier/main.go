package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unicom/engagement/internal/cache"
	"github.com/unicom/engagement/internal/db"
	"github.com/unicom/engagement/internal/events"
	"github.com/unicom/engagement/internal/notify"
	"github.com/unicom/engagement/pkg/config"
	"github.com/unicom/engagement/pkg/logging"
	"github.com/unicom/engagement/pkg/telemetry"
)

func main() {
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
	logger.Info("Starting engagement notifier")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if database == nil {
		logger.Fatal("Notifier needs a relational database (database_url or the sqlite store)")
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisCache == nil {
		logger.Fatal("Notifier needs Redis (redis_url) to read the event stream")
	}
	defer redisCache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	consumer := events.NewConsumer(redisCache.Client(), cfg.Redis.Stream, cfg.Redis.ConsumerGroup,
		fmt.Sprintf("%s-%d", hostname, os.Getpid()), logging.WithComponent("stream")).
		WithReclaim(cfg.Redis.ClaimIdle, cfg.Redis.ReclaimInterval)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal("Failed to join consumer group", zap.Error(err))
	}

	writer, err := notify.NewWriter(db.NewNotificationRepository(db.NewRepository(database.DB)), 4096)
	if err != nil {
		logger.Fatal("Failed to create notification writer", zap.Error(err))
	}

	logger.Info("Notifier initialized",
		zap.String("stream", cfg.Redis.Stream),
		zap.String("group", cfg.Redis.ConsumerGroup))

	if err := notify.NewSync(consumer, writer, 3*time.Second).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Notifier stopped", zap.Error(err))
	}

	logger.Info("Notifier exited")
}
