package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/api/internal/store"
)

// Redis is the shared version-list cache. Misses and transport errors are
// treated the same; the caller falls back to the store.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, prefix: "versions:"}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, prefix: "versions:"}
}

func (r *Redis) key(domain string) string {
	return r.prefix + domain
}

func (r *Redis) GetVersions(ctx context.Context, domain string) ([]store.Version, bool) {
	raw, err := r.client.Get(ctx, r.key(domain)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("versions cache read failed for %s: %v", domain, err)
		return nil, false
	}
	var versions []store.Version
	if err := json.Unmarshal([]byte(raw), &versions); err != nil {
		log.Printf("versions cache decode failed for %s: %v", domain, err)
		return nil, false
	}
	return versions, true
}

func (r *Redis) SetVersions(ctx context.Context, domain string, versions []store.Version) {
	raw, err := json.Marshal(versions)
	if err != nil {
		log.Printf("versions cache encode failed for %s: %v", domain, err)
		return
	}
	if err := r.client.Set(ctx, r.key(domain), raw, r.ttl).Err(); err != nil {
		log.Printf("versions cache write failed for %s: %v", domain, err)
	}
}

func (r *Redis) InvalidateDomain(ctx context.Context, domain string) {
	if err := r.client.Del(ctx, r.key(domain)).Err(); err != nil {
		log.Printf("versions cache invalidate failed for %s: %v", domain, err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
