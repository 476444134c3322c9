package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

const keyPrefix = "medguide:search:"

// commands is the subset of redis.Cmdable the cache needs.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// SearchCache stores JSON-encoded search responses. Keys already carry the
// snapshot generation, so entries only need a TTL to bound memory.
type SearchCache struct {
	client commands
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *SearchCache {
	return newWithCommands(client, ttl)
}

func newWithCommands(client commands, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SearchCache{client: client, ttl: ttl}
}

// Connect dials redis and verifies the connection with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, domain.WrapError(domain.ErrTemporary, "redis ping", err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: expected PONG, got %s", pong)
	}
	return client, nil
}

func (c *SearchCache) Get(ctx context.Context, key string) (*domain.SearchResponse, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode cached search response: %w", err)
	}
	return &resp, true, nil
}

func (c *SearchCache) Set(ctx context.Context, key string, resp *domain.SearchResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode search response: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
