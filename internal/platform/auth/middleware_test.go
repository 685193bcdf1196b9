package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestOptionalFirebaseAuth_AttachesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":  []interface{}{"Admin"},
				"email": "owner@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if verifier.received != "token-abc" {
		t.Fatalf("expected verifier to receive token, got %q", verifier.received)
	}
	if identity == nil || identity.UID != "uid-123" || identity.Email != "owner@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.HasRole(RoleAdmin) {
		t.Fatalf("expected admin role, got %v", identity.Roles)
	}
}

func TestOptionalFirebaseAuth_AnonymousOnFailure(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("expired")})

	called := false
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatalf("expected anonymous request")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer stale")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatalf("expected handler to run")
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	anon := httptest.NewRecorder()
	handler.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/", nil))
	if anon.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", anon.Code)
	}

	customer := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "c", Roles: []string{RoleCustomer}}))
	handler.ServeHTTP(customer, req)
	if customer.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", customer.Code)
	}

	admin := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "a", Roles: []string{RoleAdmin}}))
	handler.ServeHTTP(admin, req)
	if admin.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", admin.Code)
	}
}

func TestImpersonateIsScoped(t *testing.T) {
	ctx := context.Background()
	if IsPrivileged(ctx) {
		t.Fatalf("plain context must not be privileged")
	}
	err := Impersonate(ctx, func(inner context.Context) error {
		if !IsPrivileged(inner) {
			t.Fatalf("expected privileged context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	admin := WithIdentity(ctx, &Identity{UID: "a", Roles: []string{RoleAdmin, RoleSystem}})
	if IsPrivileged(admin) {
		t.Fatalf("a forged system role on a non-system uid must not be privileged")
	}
}
