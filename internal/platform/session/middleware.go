package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCookieName = "merx_session"

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	Path   string
	Secure bool
	TTL    time.Duration
}

// Middleware attaches a Session to every request, issuing a fresh token cookie when
// the visitor has none or presents one that is not a UUID.
func Middleware(store Store, opts CookieOptions) func(http.Handler) http.Handler {
	if opts.Name == "" {
		opts.Name = defaultCookieName
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if cookie, err := r.Cookie(opts.Name); err == nil {
				token = strings.TrimSpace(cookie.Value)
			}
			if _, err := uuid.Parse(token); err != nil {
				token = uuid.NewString()
			}
			http.SetCookie(w, &http.Cookie{
				Name:     opts.Name,
				Value:    token,
				Path:     opts.Path,
				MaxAge:   int(opts.TTL.Seconds()),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})

			sess := Open(store, token, opts.TTL)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}
