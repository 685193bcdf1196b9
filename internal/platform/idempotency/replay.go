// Package idempotency replays checkout responses for visitors who resubmit the same
// Idempotency-Key, so a double click or a browser retry never stages a second payment.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed checkout response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a visitor sends a key again with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Scope is a key as chosen by one visitor. Two visitors sending the same key never share an entry.
type Scope struct {
	Visitor string
	Key     string
}

// ID is the storage identifier of the scope.
func (s Scope) ID() string {
	return digest(s.Visitor + "\x00" + strings.TrimSpace(s.Key))
}

// State is the outcome of claiming a scope.
type State int

const (
	// Fresh means the caller owns the scope and must run the request.
	Fresh State = iota
	// Replay means a stored response exists and should be written back.
	Replay
	// InFlight means an earlier request with the same scope has not finished.
	InFlight
)

// Entry is a stored checkout submission.
type Entry struct {
	Visitor     string              `json:"visitor"`
	Fingerprint string              `json:"fingerprint"`
	Done        bool                `json:"done"`
	Status      int                 `json:"status,omitempty"`
	Header      map[string][]string `json:"header,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ClaimedAt   time.Time           `json:"claimedAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is what the checkout handler wrote.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store keeps claimed scopes and their responses.
type Store interface {
	Claim(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	Complete(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, scope Scope) error
}

// Sweeper is implemented by stores that do not expire entries on their own.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// stateOf decides how an existing, unexpired entry answers a new claim.
func stateOf(entry Entry, fingerprint string) (State, Entry, error) {
	if entry.Fingerprint != fingerprint {
		return Fresh, Entry{}, ErrKeyReused
	}
	if entry.Done {
		return Replay, entry, nil
	}
	return InFlight, entry, nil
}

func completedEntry(scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) Entry {
	entry := Entry{
		Visitor:     scope.Visitor,
		Fingerprint: fingerprint,
		Done:        true,
		Status:      resp.Status,
		Header:      replayableHeader(resp.Header),
		ClaimedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if len(resp.Body) > 0 {
		entry.Body = append([]byte(nil), resp.Body...)
	}
	return entry
}

// replayed lists the response headers that describe the checkout outcome. Cookies,
// request ids and hop-by-hop headers belong to the original exchange only.
var replayed = []string{"Content-Type", "Content-Language", "Location", "Cache-Control"}

func replayableHeader(header http.Header) map[string][]string {
	var kept map[string][]string
	for _, name := range replayed {
		values := header.Values(name)
		if len(values) == 0 {
			continue
		}
		if kept == nil {
			kept = make(map[string][]string, len(replayed))
		}
		kept[name] = append([]string(nil), values...)
	}
	return kept
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
