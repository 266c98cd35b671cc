package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStatePrefix = "voicebridge:state"

// RedisStateStore keeps conversation state in Redis with mandatory TTL.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore builds a Redis-backed ephemeral state store.
func NewRedisStateStore(addr, password, prefix string) *RedisStateStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultStatePrefix
	}
	return &RedisStateStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// Close releases the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// Ping checks connectivity at start-up.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) key(key string) string {
	return s.prefix + ":" + key
}

// Get returns the value stored under key, if it has not expired.
func (s *RedisStateStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Take reads and deletes key atomically with GETDEL.
func (s *RedisStateStore) Take(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes value under key. Entries without expiry are rejected.
func (s *RedisStateStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// Delete removes keys; missing keys are not an error.
func (s *RedisStateStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, full...).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
