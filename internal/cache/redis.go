package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unicom/engagement/pkg/config"
	"github.com/unicom/engagement/pkg/logging"
)

const keyPrefix = "unicom:"

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = errors.New("cache is disabled")
	// ErrMiss is returned when a key is absent
	ErrMiss = errors.New("cache miss")
	// ErrGone is returned when a versioned key was tombstoned
	ErrGone = errors.New("cache entry removed")
)

// tombstoneVersion outranks every real version and stays exact as a Lua number.
const tombstoneVersion = 1 << 53

// setIfNewer writes a versioned hash entry unless the cached version is the
// same or newer. ARGV: version, body, ttl in milliseconds.
var setIfNewer = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'v'))
if cur and cur >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'body', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Cache wraps Redis client
type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache client. It returns nil, nil when Redis is
// disabled; every method on a nil *Cache reports ErrCacheDisabled.
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the underlying client so the event stream can share the
// connection pool.
func (c *Cache) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func (c *Cache) namespaceKey(key string) string {
	return keyPrefix + key
}

// HashKey folds arbitrary key parts into a fixed-length hex digest.
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// GetVersionedJSON decodes a versioned entry into dst and returns its version.
func (c *Cache) GetVersionedJSON(ctx context.Context, key string, dst interface{}) (int64, error) {
	if c == nil || c.client == nil {
		return 0, ErrCacheDisabled
	}
	vals, err := c.client.HMGet(ctx, c.namespaceKey(key), "v", "body").Result()
	if err != nil {
		return 0, err
	}
	rawVersion, ok := vals[0].(string)
	if !ok {
		return 0, ErrMiss
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode cached %s version: %w", key, err)
	}
	body, _ := vals[1].(string)
	if version >= tombstoneVersion || body == "" {
		return version, ErrGone
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return 0, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return version, nil
}

// SetVersionedJSON stores value under key only if version is newer than the
// cached entry. It reports whether the write landed.
func (c *Cache) SetVersionedJSON(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	n, err := setIfNewer.Run(ctx, c.client, []string{c.namespaceKey(key)}, version, raw, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Tombstone marks a versioned key as removed for ttl. Later versioned writes
// to it are refused.
func (c *Cache) Tombstone(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return setIfNewer.Run(ctx, c.client, []string{c.namespaceKey(key)}, int64(tombstoneVersion), "", ttl.Milliseconds()).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}
