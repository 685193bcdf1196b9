package auth

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultNoncePrefix = "merx:nonce:"

// RedisNonceStore shares used webhook nonces across instances.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisNonceStore wraps client. An empty prefix uses "merx:nonce:".
func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = defaultNoncePrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix, now: time.Now}
}

// UseNonce claims the nonce with SETNX until expiry.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	ttl := expiry.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.SetNX(ctx, s.prefix+scope+"::"+nonce, 1, ttl).Result()
}
