package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "merx:session:"

// RedisStore keeps each session as a Redis hash whose fields are the logical keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses "merx:session:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(token string) string {
	return s.prefix + token
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, token, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.hashKey(token), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set implements Store. The hash field write and expiry refresh run in one transaction.
func (s *RedisStore) Set(ctx context.Context, token, key string, value []byte, ttl time.Duration) error {
	hash := s.hashKey(token)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, value)
		if ttl > 0 {
			pipe.Expire(ctx, hash, ttl)
		}
		return nil
	})
	return err
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, token, key string) error {
	return s.client.HDel(ctx, s.hashKey(token), key).Err()
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
