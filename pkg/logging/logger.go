package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unicom/engagement/pkg/config"
)

// Logger is the application logger
var Logger *zap.Logger

// InitLogger initializes the global logger with the given configuration
func InitLogger(cfg *config.LoggingConfig) error {
	Logger = New(cfg, os.Stdout)
	return nil
}

// New builds a logger writing to w. JSON output uses the field names the log
// pipeline indexes on (timestamp, level, message).
func New(cfg *config.LoggingConfig, w io.Writer) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Format == "text" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	} else {
		encoder = zapcore.NewJSONEncoder(jsonEncoderConfig())
	}

	return zap.New(
		zapcore.NewCore(encoder, zapcore.AddSync(w), level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return ec
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if Logger == nil {
		// Fallback to default logger
		Logger, _ = zap.NewProduction()
	}
	return Logger
}

// WithContext adds context fields to logger
func WithContext(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// WithComponent adds component name to logger
func WithComponent(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

// WithPost scopes a logger to one aggregate operation.
func WithPost(logger *zap.Logger, op, postID, actorID string) *zap.Logger {
	return logger.With(zap.String("op", op), zap.String("post_id", postID), zap.String("actor_id", actorID))
}
