package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the durable replay cache backend. Entries survive process
// restarts and are visible to every server process sharing the Redis
// instance. Expiry uses Redis' native per-key TTL set at write time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, signature string) (*Entry, error) {
	raw, err := s.client.Get(ctx, keyPrefix+signature).Result()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt value cannot prove prior use; treat as absent.
		s.misses.Add(1)
		return nil, ErrNotFound
	}

	s.hits.Add(1)
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, signature string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+signature, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, signature string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+signature).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, signature string) error {
	if err := s.client.Del(ctx, keyPrefix+signature).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis keys: %w", err)
	}
	return Stats{
		Count:  int64(len(keys)),
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
