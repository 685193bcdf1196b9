package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/platform/session"
)

const (
	// DefaultHeader carries the key chosen by the client.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks a response written from a stored entry.
	ReplayHeader = "X-Idempotent-Replay"

	maxKeyLength = 255
)

// Config configures Middleware. The zero value guards with DefaultHeader and
// DefaultTTL and lets requests without a key through.
type Config struct {
	Header string
	TTL    time.Duration
	// RequireKey rejects guarded requests that carry no key.
	RequireKey bool
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Middleware replays the stored response when a visitor resubmits a key with the same
// request. Entries are scoped to the visitor: the signed-in account when there is one,
// otherwise the session token. Requests with neither pass through unguarded. Responses
// with a 5xx status are not stored, so the client may retry with the same key.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Header = strings.TrimSpace(cfg.Header); cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	cfg.TTL = normalizeTTL(cfg.TTL)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	g := &guard{store: store, cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	store Store
	cfg   Config
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !mutating(r.Method) {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.cfg.Header))
	if key == "" {
		if g.cfg.RequireKey {
			writeError(ctx, w, "merx.idempotencyKeyMissing", "missing "+g.cfg.Header+" header", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
		return
	}
	if len(key) > maxKeyLength {
		writeError(ctx, w, "merx.idempotencyKeyInvalid", "idempotency key is too long", http.StatusBadRequest)
		return
	}
	visitor := visitorOf(ctx)
	if visitor == "" {
		next.ServeHTTP(w, r)
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		writeError(ctx, w, "merx.invalidRequest", "unable to read request body", http.StatusBadRequest)
		return
	}
	scope := Scope{Visitor: visitor, Key: key}
	fingerprint := fingerprintOf(r, body)
	logger := g.cfg.Logger.With(zap.String("idempotency_key", key))

	state, entry, err := g.store.Claim(ctx, scope, fingerprint, g.cfg.Clock().UTC(), g.cfg.TTL)
	switch {
	case errors.Is(err, ErrKeyReused):
		writeError(ctx, w, "merx.idempotencyKeyReused", "idempotency key already used for a different request", http.StatusConflict)
		return
	case err != nil:
		logger.Error("idempotency claim failed", zap.Error(err))
		writeError(ctx, w, "merx.idempotencyUnavailable", "unable to process idempotency key", http.StatusInternalServerError)
		return
	}

	switch state {
	case Replay:
		replay(w, entry)
		return
	case InFlight:
		writeError(ctx, w, "merx.idempotencyInFlight", "a request with this idempotency key is still running", http.StatusConflict)
		return
	}

	capture := &captureWriter{parent: w}
	next.ServeHTTP(capture, r)
	resp := capture.response()

	if resp.Status >= http.StatusInternalServerError {
		if err := g.store.Abandon(ctx, scope); err != nil {
			logger.Warn("idempotency abandon failed", zap.Error(err))
		}
		capture.flush(logger)
		return
	}
	if err := g.store.Complete(ctx, scope, fingerprint, resp, g.cfg.Clock().UTC(), g.cfg.TTL); err != nil {
		logger.Error("idempotency store failed", zap.Error(err))
		if err := g.store.Abandon(ctx, scope); err != nil {
			logger.Warn("idempotency abandon failed", zap.Error(err))
		}
		w.Header().Del("Location")
		writeError(ctx, w, "merx.idempotencyUnavailable", "unable to persist idempotency state", http.StatusInternalServerError)
		return
	}
	capture.flush(logger)
}

// visitorOf names the owner of a key, or "" when the request has no owner.
func visitorOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "user:" + identity.UID
	}
	if sess, ok := session.FromContext(ctx); ok && sess.Token() != "" {
		return "session:" + sess.Token()
	}
	return ""
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintOf identifies what was submitted. The visitor is part of the scope, not
// the fingerprint.
func fingerprintOf(r *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)
	b.WriteByte('?')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('\n')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('\n')
	b.Write(body)
	return digest(b.String())
}

func replay(w http.ResponseWriter, entry Entry) {
	header := w.Header()
	for name, values := range entry.Header {
		header.Del(name)
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// captureWriter holds the status and body back until the outcome is stored. Headers go
// straight to the parent so those set by outer middleware, such as the session cookie,
// survive.
type captureWriter struct {
	parent http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.parent.Header() }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *captureWriter) response() Response {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: c.parent.Header(), Body: c.body.Bytes()}
}

func (c *captureWriter) flush(logger *zap.Logger) {
	c.parent.WriteHeader(c.response().Status)
	if c.body.Len() == 0 {
		return
	}
	if _, err := c.parent.Write(c.body.Bytes()); err != nil {
		logger.Debug("idempotency flush failed", zap.Error(err))
	}
}
