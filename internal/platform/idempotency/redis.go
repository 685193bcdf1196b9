package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "merx:idempotency:"

// RedisStore implements Store on Redis. Entries expire through key TTLs, so it needs no Sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses "merx:idempotency:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(scope Scope) string {
	return s.prefix + scope.ID()
}

// Claim implements Store. SETNX claims the scope; an existing entry decides the state.
func (s *RedisStore) Claim(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	key := s.redisKey(scope)
	pending := Entry{
		Visitor:     scope.Visitor,
		Fingerprint: fingerprint,
		ClaimedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return Fresh, Entry{}, fmt.Errorf("idempotency: encode entry: %w", err)
	}

	// The second round covers an entry expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, key, raw, ttl).Result()
		if err != nil {
			return Fresh, Entry{}, err
		}
		if claimed {
			return Fresh, pending, nil
		}

		existing, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Fresh, Entry{}, err
		}
		entry, err := decodeEntry(existing)
		if err != nil {
			return Fresh, Entry{}, err
		}
		return stateOf(entry, fingerprint)
	}
	return Fresh, Entry{}, fmt.Errorf("idempotency: unable to claim key %q", scope.Key)
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	raw, err := json.Marshal(completedEntry(scope, fingerprint, resp, now.UTC(), ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode entry: %w", err)
	}
	return s.client.Set(ctx, s.redisKey(scope), raw, ttl).Err()
}

// Abandon implements Store.
func (s *RedisStore) Abandon(ctx context.Context, scope Scope) error {
	return s.client.Del(ctx, s.redisKey(scope)).Err()
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeEntry(raw []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return entry, nil
}
