package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Signature-Timestamp"
	NonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// Logger is the printf-style sink used for verification diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// StaticSecrets serves secrets from a fixed map.
type StaticSecrets map[string]string

// GetSecret implements SecretProvider.
func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("auth: secret %q not configured", name)
}

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope. The boolean indicates
	// whether the nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore offers an in-memory nonce registry suitable for tests and local development.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// VerificationError describes why a signed request was rejected.
type VerificationError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Code, e.Err)
	}
	return "auth: " + e.Code
}

func (e *VerificationError) Unwrap() error { return e.Err }

func reject(status int, code, message string) *VerificationError {
	return &VerificationError{Status: status, Code: code, Message: message}
}

// HMACValidator verifies signed webhook calls from trusted integrations such as the invoice backend.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger Logger
	now    func() time.Time

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		provider:  provider,
		nonces:    nonces,
		logger:    log.Default(),
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL sets how long a used nonce is remembered.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes the verification context for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacContextKey struct{}

// WithHMACMetadata stores the metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata from the context.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// Verify checks the signature headers of r against body. Errors are *VerificationError.
func (v *HMACValidator) Verify(ctx context.Context, r *http.Request, body []byte, secretName string) (*HMACMetadata, error) {
	secretName = strings.TrimSpace(secretName)
	if secretName == "" {
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured")
	}

	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		v.logger.Printf("auth: hmac secret lookup failed: %v", err)
		verr := reject(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable")
		verr.Err = err
		return nil, verr
	}

	signatureValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if signatureValue == "" {
		return nil, reject(http.StatusUnauthorized, "signature_missing", "signature header missing")
	}
	timestampValue := strings.TrimSpace(r.Header.Get(TimestampHeader))
	if timestampValue == "" {
		return nil, reject(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
	}
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, reject(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
	}
	nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
	if nonce == "" {
		return nil, reject(http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, reject(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
	}
	expected := computeHMAC(secret, buildCanonicalString(r.Method, r.URL.EscapedPath(), body, timestampValue, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, reject(http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
	}
	expiry := timestamp.Add(v.nonceTTL)
	if expiry.Before(v.now()) {
		expiry = v.now().Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		v.logger.Printf("auth: nonce store error: %v", err)
		return nil, reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
	}
	if !stored {
		return nil, reject(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
	}

	return &HMACMetadata{SecretName: secretName, Timestamp: timestamp, Nonce: nonce}, nil
}

// RequireHMAC enforces the presence of a valid HMAC signature on the request.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readAndRestoreBody(r)
			if err != nil {
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			meta, err := v.Verify(r.Context(), r, body, secretName)
			if err != nil {
				var verr *VerificationError
				if errors.As(err, &verr) {
					respondAuthError(w, verr.Status, verr.Code, verr.Message)
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "signature_invalid", "signature verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(r.Context(), meta)))
		})
	}
}

// SignRequest sets the signature headers on req for body. Used by integrations and tests.
func SignRequest(req *http.Request, body []byte, secret, nonce string, at time.Time) {
	timestamp := at.UTC().Format(time.RFC3339)
	signature := computeHMAC([]byte(secret), buildCanonicalString(req.Method, req.URL.EscapedPath(), body, timestamp, nonce))
	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(NonceHeader, nonce)
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	secret := []byte(raw)
	if len(secret) == 0 {
		return nil, errors.New("auth: secret is empty")
	}
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func buildCanonicalString(method, path string, body []byte, timestamp, nonce string) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
