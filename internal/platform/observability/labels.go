package observability

import (
	"context"
	"net"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/session"
)

// unmatchedRoute labels requests no route matched, so probing random paths cannot
// grow the metrics label set.
const unmatchedRoute = "unmatched"

// sessionRefLength is how much of a session token may appear in logs.
const sessionRefLength = 8

// logValue makes a request-controlled value safe for one log field: control
// characters become spaces and the result holds at most limit runes.
func logValue(value string, limit int) string {
	var b strings.Builder
	runes := 0
	for _, r := range value {
		if runes == limit {
			break
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			r = ' '
		}
		b.WriteRune(r)
		runes++
	}
	return strings.TrimSpace(b.String())
}

// routeLabel is the chi route pattern of r, or unmatchedRoute.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return logValue(pattern, 180)
		}
	}
	return unmatchedRoute
}

// methodLabel keeps the standard methods and folds everything else into OTHER.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions:
		return method
	}
	return "OTHER"
}

func userLabel(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return logValue(identity.UID, 64)
}

// sessionLabel is a prefix of the session token, never the whole token.
func sessionLabel(ctx context.Context) string {
	sess, ok := session.FromContext(ctx)
	if !ok || sess == nil {
		return ""
	}
	token := sess.Token()
	if len(token) > sessionRefLength {
		token = token[:sessionRefLength]
	}
	return token
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return ""
}
