package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Role constants checked by the shop.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	// RoleSystem is held only by the in-process system identity used for privileged writes.
	RoleSystem = "system"
)

const systemUID = "merx-system"

// Identity captures the authenticated principal details.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/wagnerwagner/merx/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// SystemIdentity returns the highest-privilege identity.
func SystemIdentity() *Identity {
	return &Identity{UID: systemUID, Roles: []string{RoleSystem, RoleAdmin}}
}

// Impersonate runs fn with the system identity on ctx. The caller's identity is untouched
// outside fn.
func Impersonate(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithIdentity(ctx, SystemIdentity()))
}

// IsPrivileged reports whether ctx carries the system identity.
func IsPrivileged(ctx context.Context) bool {
	identity, ok := IdentityFromContext(ctx)
	return ok && identity.UID == systemUID && identity.HasRole(RoleSystem)
}
