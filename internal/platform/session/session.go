// Package session stores per-visitor state keyed by an opaque token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Logical keys used by the shop.
const (
	KeyCartItems     = "cart.items"
	KeyStagedOrder   = "order.staged"
	KeyCorrelationID = "payment.correlationId"
	KeyCurrency      = "pricing.currency"
	KeyFlash         = "flash.message"
)

// DefaultTTL bounds how long an idle session is retained.
const DefaultTTL = 14 * 24 * time.Hour

// ErrNotFound is returned by stores when a key is absent.
var ErrNotFound = errors.New("session: not found")

// Store persists raw session values. Every write refreshes the session's expiry.
type Store interface {
	Get(ctx context.Context, token, key string) ([]byte, error)
	Set(ctx context.Context, token, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, token, key string) error
	Ping(ctx context.Context) error
}

// Session is the handle a request uses to read and write its own values.
type Session struct {
	token string
	store Store
	ttl   time.Duration
}

// Open returns a handle for token. It does not touch the store.
func Open(store Store, token string, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Session{token: token, store: store, ttl: ttl}
}

// Token returns the opaque session token.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Get decodes the value under key into dst. ok is false when the key is absent.
func (s *Session) Get(ctx context.Context, key string, dst any) (bool, error) {
	if s == nil || s.store == nil {
		return false, nil
	}
	raw, err := s.store.Get(ctx, s.token, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value as JSON under key.
func (s *Session) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.store == nil {
		return errors.New("session: unavailable")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, s.token, key, raw, s.ttl); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Session) Remove(ctx context.Context, key string) error {
	if s == nil || s.store == nil {
		return nil
	}
	if err := s.store.Remove(ctx, s.token, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session: remove %s: %w", key, err)
	}
	return nil
}

// Pull reads key into dst and removes it, for one-shot values such as flash messages.
func (s *Session) Pull(ctx context.Context, key string, dst any) (bool, error) {
	ok, err := s.Get(ctx, key, dst)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.Remove(ctx, key)
}

type contextKey struct{}

// WithSession stores the handle on ctx.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the request's session handle.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok && sess != nil
}
