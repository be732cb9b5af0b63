package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{
			name:  "single part",
			parts: []string{"test"},
		},
		{
			name:  "multiple parts",
			parts: []string{"test", "key", "with", "many", "parts"},
		},
		{
			name:  "empty parts",
			parts: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed1 := HashKey(tt.parts...)
			hashed2 := HashKey(tt.parts...)

			if hashed1 != hashed2 {
				t.Errorf("HashKey() should be consistent, got %s and %s", hashed1, hashed2)
			}

			if len(hashed1) != 32 {
				t.Errorf("HashKey() should return 32 character hex string, got length %d", len(hashed1))
			}
		})
	}

	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Error("HashKey() should keep part boundaries")
	}
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"simple key", "test", "unicom:test"},
		{"key with colon", "post:p1", "unicom:post:p1"},
		{"empty key", "", "unicom:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cache.namespaceKey(tt.key)
			if result != tt.expected {
				t.Errorf("namespaceKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCache_Disabled(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	var dst int
	if _, err := c.GetVersionedJSON(ctx, "k", &dst); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("GetVersionedJSON() error = %v", err)
	}
	if _, err := c.SetVersionedJSON(ctx, "k", 1, 1, time.Second); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("SetVersionedJSON() error = %v", err)
	}
	if err := c.Tombstone(ctx, "k", time.Second); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Tombstone() error = %v", err)
	}
	if err := c.Health(ctx); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Health() error = %v", err)
	}
	if c.Client() != nil {
		t.Error("Client() on nil cache should be nil")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCache_Versioned(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	c := NewFromClient(redis.NewClient(opt))
	defer c.Close()
	ctx := context.Background()

	key := "test:" + HashKey(t.Name(), time.Now().String())
	defer c.Client().Del(ctx, c.namespaceKey(key))

	var got string
	if _, err := c.GetVersionedJSON(ctx, key, &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetVersionedJSON() on empty key error = %v, want ErrMiss", err)
	}

	tests := []struct {
		name    string
		version int64
		value   string
		landed  bool
		want    string
	}{
		{"first write", 2, "v2", true, "v2"},
		{"stale write refused", 1, "v1", false, "v2"},
		{"same version refused", 2, "again", false, "v2"},
		{"newer write", 3, "v3", true, "v3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			landed, err := c.SetVersionedJSON(ctx, key, tt.version, tt.value, time.Minute)
			if err != nil || landed != tt.landed {
				t.Fatalf("SetVersionedJSON(%d) = %v, %v, want %v", tt.version, landed, err, tt.landed)
			}
			var v string
			if _, err := c.GetVersionedJSON(ctx, key, &v); err != nil || v != tt.want {
				t.Errorf("GetVersionedJSON() = %q, %v, want %q", v, err, tt.want)
			}
		})
	}

	if err := c.Tombstone(ctx, key, time.Minute); err != nil {
		t.Fatalf("Tombstone() error = %v", err)
	}
	if landed, err := c.SetVersionedJSON(ctx, key, 4, "v4", time.Minute); err != nil || landed {
		t.Errorf("SetVersionedJSON() after Tombstone = %v, %v", landed, err)
	}
	if _, err := c.GetVersionedJSON(ctx, key, &got); !errors.Is(err, ErrGone) {
		t.Errorf("GetVersionedJSON() after Tombstone error = %v, want ErrGone", err)
	}
}
