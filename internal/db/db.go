package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/unicom/engagement/internal/models"
	"github.com/unicom/engagement/pkg/config"
	"github.com/unicom/engagement/pkg/logging"
)

// zapWriter adapts zap.Logger to logger.Writer interface
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// DB wraps GORM database connection
type DB struct {
	*gorm.DB
}

// New creates a new postgres connection
func New(cfg *config.DatabaseConfig, logLevel string) (*DB, error) {
	return Open("postgres", cfg.URL, logLevel)
}

// Connect opens the relational database the configuration points at: the
// sqlite file for the sqlite store, otherwise postgres when database_url is
// set. It returns nil, nil when neither applies.
func Connect(cfg *config.Config) (*DB, error) {
	switch {
	case cfg.Store.Driver == "sqlite":
		return Open("sqlite", cfg.Store.SQLitePath, cfg.Logging.Level)
	case cfg.Database.URL != "":
		return New(&cfg.Database, cfg.Logging.Level)
	default:
		return nil, nil
	}
}

// Open connects to postgres or sqlite. For sqlite, dsn is a file path or a
// memory URI such as "file::memory:?cache=shared".
func Open(driver, dsn, logLevel string) (*DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	zapLogger := logging.GetLogger()
	gormLogger := logger.New(
		&zapWriter{logger: zapLogger},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if driver == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY churn
		// and keeps a shared in-memory database alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	zapLogger.Info("Database connection established", zap.String("driver", driver))

	return &DB{DB: db}, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "DEBUG", "debug":
		return logger.Info
	case "INFO", "info":
		return logger.Warn
	case "WARN", "warn", "WARNING", "warning":
		return logger.Error
	case "ERROR", "error":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// Migrate creates or updates the engagement tables.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.DB.WithContext(ctx).AutoMigrate(&models.PostDocument{}, &models.Notification{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database health
func (d *DB) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
