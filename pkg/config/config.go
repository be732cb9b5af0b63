package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "UNICOM"

// Config holds all configuration for the application
type Config struct {
	Database   DatabaseConfig
	Store      StoreConfig
	Redis      RedisConfig
	Server     ServerConfig
	Engagement EngagementConfig
	Logging    LoggingConfig
	Telemetry  TelemetryConfig
}

// DatabaseConfig holds relational database configuration
type DatabaseConfig struct {
	URL string
}

// StoreConfig selects the aggregate store and its retry budget
type StoreConfig struct {
	Driver        string // memory, postgres, sqlite or mongo
	SQLitePath    string
	MongoURL      string
	MongoDatabase string
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL             string
	Enabled         bool
	Stream          string
	StreamMaxLen    int64
	ConsumerGroup   string
	CacheTTL        time.Duration
	ClaimIdle       time.Duration
	ReclaimInterval time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
}

// EngagementConfig holds request-level limits
type EngagementConfig struct {
	MaxCommentLength int
	CommentPageSize  int
	MaxPageSize      int
	EventBuffer      int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.unicom")
	viper.AddConfigPath("/etc/unicom")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; env vars are enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	redisURL := getString("redis_url", "")
	cfg := &Config{
		Database: DatabaseConfig{
			URL: getString("database_url", ""),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getString("store_driver", "memory")),
			SQLitePath:    getString("store_sqlite_path", "engagement.db"),
			MongoURL:      getString("mongo_url", ""),
			MongoDatabase: getString("mongo_database", "unicom"),
			MaxAttempts:   getInt("store_max_attempts", 5),
			BaseBackoff:   getDuration("store_base_backoff", 10*time.Millisecond),
			MaxBackoff:    getDuration("store_max_backoff", 200*time.Millisecond),
		},
		Redis: RedisConfig{
			URL:             redisURL,
			Enabled:         redisURL != "",
			Stream:          getString("redis_stream", "unicom:engagement"),
			StreamMaxLen:    int64(getInt("redis_stream_maxlen", 100000)),
			ConsumerGroup:   getString("redis_consumer_group", "notifier"),
			CacheTTL:        getDuration("redis_cache_ttl", 30*time.Second),
			ClaimIdle:       getDuration("redis_claim_idle", time.Minute),
			ReclaimInterval: getDuration("redis_reclaim_interval", 30*time.Second),
		},
		Server: ServerConfig{
			Port: getInt("http_server_port", 8080),
			Host: getString("http_server_host", "0.0.0.0"),
		},
		Engagement: EngagementConfig{
			MaxCommentLength: getInt("max_comment_length", 5000),
			CommentPageSize:  getInt("comment_page_size", 20),
			MaxPageSize:      getInt("max_page_size", 100),
			EventBuffer:      getInt("event_buffer", 1024),
		},
		Logging: LoggingConfig{
			Level:  getString("log_level", "INFO"),
			Format: getString("log_format", "json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", false),
			JaegerURL:         getString("jaeger_url", "http://localhost:14268/api/traces"),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			PrometheusPort:    getInt("prometheus_port", 9090),
			ServiceName:       getString("service_name", "unicom-engagement"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("store_driver", "memory")
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "0.0.0.0")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("store_max_attempts", 5)
	viper.SetDefault("max_comment_length", 5000)
	viper.SetDefault("comment_page_size", 20)
	viper.SetDefault("event_buffer", 1024)
	viper.SetDefault("redis_stream", "unicom:engagement")
	viper.SetDefault("prometheus_port", 9090)
	viper.SetDefault("service_name", "unicom-engagement")
}

func getString(key, defaultValue string) string {
	// The environment wins over defaults registered with viper.
	if val := os.Getenv(envKey(key)); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if val := os.Getenv(envKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if val := os.Getenv(envKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(envKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return defaultValue
}

// envKey maps a snake_case key to its UNICOM_ environment variable.
func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database_url is required for the postgres store")
		}
	case "mongo":
		if c.Store.MongoURL == "" {
			return fmt.Errorf("mongo_url is required for the mongo store")
		}
	default:
		return fmt.Errorf("store_driver must be memory, postgres, sqlite or mongo, got %q", c.Store.Driver)
	}
	if c.Store.MaxAttempts < 1 || c.Store.MaxAttempts > 20 {
		return fmt.Errorf("store_max_attempts must be between 1 and 20")
	}
	if c.Store.BaseBackoff <= 0 || c.Store.MaxBackoff < c.Store.BaseBackoff {
		return fmt.Errorf("store backoff must be positive and max_backoff >= base_backoff")
	}
	if c.Engagement.MaxCommentLength <= 0 {
		return fmt.Errorf("max_comment_length must be positive")
	}
	if c.Engagement.MaxPageSize <= 0 || c.Engagement.MaxPageSize > 1000 {
		return fmt.Errorf("max_page_size must be between 1 and 1000")
	}
	if c.Engagement.CommentPageSize <= 0 || c.Engagement.CommentPageSize > c.Engagement.MaxPageSize {
		return fmt.Errorf("comment_page_size must be between 1 and %d", c.Engagement.MaxPageSize)
	}
	if c.Engagement.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive")
	}
	if c.Redis.Enabled && c.Redis.Stream == "" {
		return fmt.Errorf("redis_stream is required when redis is enabled")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("http_server_port must be between 1 and 65535")
	}
	return nil
}

// Default returns the configuration Load produces with an empty environment.
// Tests and embedded setups use it instead of touching process state.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:        "memory",
			SQLitePath:    "engagement.db",
			MongoDatabase: "unicom",
			MaxAttempts:   5,
			BaseBackoff:   10 * time.Millisecond,
			MaxBackoff:    200 * time.Millisecond,
		},
		Redis: RedisConfig{
			Stream:          "unicom:engagement",
			StreamMaxLen:    100000,
			ConsumerGroup:   "notifier",
			CacheTTL:        30 * time.Second,
			ClaimIdle:       time.Minute,
			ReclaimInterval: 30 * time.Second,
		},
		Server:     ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Engagement: EngagementConfig{MaxCommentLength: 5000, CommentPageSize: 20, MaxPageSize: 100, EventBuffer: 1024},
		Logging:    LoggingConfig{Level: "INFO", Format: "json"},
		Telemetry:  TelemetryConfig{PrometheusEnabled: true, PrometheusPort: 9090, ServiceName: "unicom-engagement"},
	}
}
