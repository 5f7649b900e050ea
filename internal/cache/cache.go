// Package cache provides Redis-based caching for hot lookup data,
// primarily the patient roster scanned by the consent engine.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides Redis-based caching operations
type Cache struct {
	client    *redis.Client
	keyPrefix string
	enabled   bool
}

// New creates a new Cache instance. With Enabled false every operation
// is a no-op, so callers never need a nil check.
func New(redisURL string, enabled bool) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{
		client:    client,
		keyPrefix: "careledger",
		enabled:   true,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsEnabled returns whether caching is enabled
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

func (c *Cache) key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Get retrieves a value from cache
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return redis.Nil
	}

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes values from cache
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.enabled || len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.key(k)
	}

	return c.client.Del(ctx, fullKeys...).Err()
}

// Roster caching

const rosterKeyPrefix = "roster"

// GetRoster retrieves a cached address roster for a role
func (c *Cache) GetRoster(ctx context.Context, role string) ([]string, error) {
	var roster []string
	if err := c.Get(ctx, rosterKeyPrefix+":"+role, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// SetRoster stores an address roster for a role
func (c *Cache) SetRoster(ctx context.Context, role string, addresses []string, ttl time.Duration) error {
	return c.Set(ctx, rosterKeyPrefix+":"+role, addresses, ttl)
}

// InvalidateRoster drops the cached roster for a role, used when a new
// account registers
func (c *Cache) InvalidateRoster(ctx context.Context, role string) error {
	return c.Delete(ctx, rosterKeyPrefix+":"+role)
}

// IsMiss reports whether an error from Get is a cache miss
func IsMiss(err error) bool {
	return err == redis.Nil
}

// Token denylist, used to honor logouts before a JWT expires

const tokenDenyPrefix = "denied-token"

// DenyToken marks a token as logged out for the remainder of its
// lifetime.
func (c *Cache) DenyToken(ctx context.Context, token string, ttl time.Duration) error {
	return c.Set(ctx, tokenDenyPrefix+":"+hashToken(token), true, ttl)
}

// IsTokenDenied reports whether a token has been logged out
func (c *Cache) IsTokenDenied(ctx context.Context, token string) (bool, error) {
	var denied bool
	if err := c.Get(ctx, tokenDenyPrefix+":"+hashToken(token), &denied); err != nil {
		if IsMiss(err) {
			return false, nil
		}
		return false, err
	}
	return denied, nil
}

// hashToken keeps raw bearer tokens out of Redis
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
