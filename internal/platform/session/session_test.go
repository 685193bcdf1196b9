package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := Open(store, "token-1", time.Hour)

	type payload struct {
		Items []string `json:"items"`
	}
	if err := sess.Set(ctx, KeyCartItems, payload{Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	ok, err := sess.Get(ctx, KeyCartItems, &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got.Items) != 2 || got.Items[1] != "b" {
		t.Fatalf("unexpected payload %#v", got)
	}

	other := Open(store, "token-2", time.Hour)
	if ok, _ := other.Get(ctx, KeyCartItems, &got); ok {
		t.Fatalf("expected sessions to be isolated")
	}

	if err := sess.Remove(ctx, KeyCartItems); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := sess.Get(ctx, KeyCartItems, &got); ok {
		t.Fatalf("expected key to be removed")
	}
	if err := sess.Remove(ctx, "missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestSessionPullRemovesValue(t *testing.T) {
	ctx := context.Background()
	sess := Open(NewMemoryStore(), "token", time.Hour)
	if err := sess.Set(ctx, KeyFlash, "payment canceled"); err != nil {
		t.Fatalf("set: %v", err)
	}

	var message string
	ok, err := sess.Pull(ctx, KeyFlash, &message)
	if err != nil || !ok || message != "payment canceled" {
		t.Fatalf("pull: ok=%v err=%v message=%q", ok, err, message)
	}
	if ok, _ := sess.Pull(ctx, KeyFlash, &message); ok {
		t.Fatalf("expected flash to be consumed")
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	if err := store.Set(ctx, "token", KeyCurrency, []byte(`"CHF"`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "token", KeyCurrency); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMiddlewareIssuesAndReusesToken(t *testing.T) {
	store := NewMemoryStore()
	var seen string
	handler := Middleware(store, CookieOptions{Name: "sid"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		if !ok {
			t.Fatalf("expected session in context")
		}
		seen = sess.Token()
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected uuid token, got %q", seen)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %#v", cookies)
	}

	issued := seen
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: issued})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != issued {
		t.Fatalf("expected token %s to be reused, got %s", issued, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "not-a-uuid"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid" {
		t.Fatalf("expected forged token to be replaced")
	}
}

func TestRedisStoreHashKey(t *testing.T) {
	store := NewRedisStore(nil, "")
	if got := store.hashKey("abc"); got != "merx:session:abc" {
		t.Fatalf("unexpected hash key %s", got)
	}
}
