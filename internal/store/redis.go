package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zzkt/aqi/internal/models"
)

const redisKeyPrefix = "aqi:"

// RedisStore implements Store against redis. Entries are stored as JSON
// under a service prefix with no expiration.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. For tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(key string) string {
	return redisKeyPrefix + key
}

func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.Entry, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("redis: get %q: %w", key, err)
	}

	var entry models.Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return models.Entry{}, false, fmt.Errorf("redis: decode %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, entry models.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode %q: %w", key, err)
	}

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: del %q: %w", key, err)
	}
	return nil
}

// ClearAll removes every key under the service prefix. SCAN keeps this
// safe on shared instances, unlike a blanket FLUSHDB.
func (s *RedisStore) ClearAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis: del %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan: %w", err)
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
