package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

const invoiceSecret = "webhooks/invoice"

func newTestValidator(now time.Time, provider SecretProvider) *HMACValidator {
	return NewHMACValidator(provider, NewInMemoryNonceStore(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)
}

func signedRequest(body []byte, secret, nonce string, at time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/invoice", bytes.NewReader(body))
	SignRequest(req, body, secret, nonce, at)
	return req
}

func TestRequireHMAC_Success(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(now, StaticSecrets{invoiceSecret: "super-secret"})

	body := []byte(`{"type":"payment.received","correlationId":"01HX"}`)
	rr := httptest.NewRecorder()

	validator.RequireHMAC(invoiceSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatalf("expected hmac metadata in context")
		}
		if meta.SecretName != invoiceSecret || meta.Nonce != "nonce-1" {
			t.Fatalf("unexpected metadata %+v", meta)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, signedRequest(body, "super-secret", "nonce-1", now))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}

func TestVerify_ReplayRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(now, StaticSecrets{invoiceSecret: "s"})
	body := []byte(`{}`)

	if _, err := validator.Verify(context.Background(), signedRequest(body, "s", "n", now), body, invoiceSecret); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	_, err := validator.Verify(context.Background(), signedRequest(body, "s", "n", now), body, invoiceSecret)
	verr, ok := err.(*VerificationError)
	if !ok || verr.Code != "nonce_replay" {
		t.Fatalf("expected nonce_replay, got %v", err)
	}
}

func TestVerify_Rejections(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	body := []byte(`{"amount":"10"}`)

	cases := []struct {
		name   string
		req    func() *http.Request
		body   []byte
		code   string
		status int
	}{
		{
			name:   "tampered body",
			req:    func() *http.Request { return signedRequest(body, "s", "n1", now) },
			body:   []byte(`{"amount":"1000"}`),
			code:   "signature_mismatch",
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong secret",
			req:    func() *http.Request { return signedRequest(body, "other", "n2", now) },
			body:   body,
			code:   "signature_mismatch",
			status: http.StatusUnauthorized,
		},
		{
			name:   "stale timestamp",
			req:    func() *http.Request { return signedRequest(body, "s", "n3", now.Add(-time.Hour)) },
			body:   body,
			code:   "timestamp_skew",
			status: http.StatusUnauthorized,
		},
		{
			name: "missing signature",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/webhooks/invoice", bytes.NewReader(body))
			},
			body:   body,
			code:   "signature_missing",
			status: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := newTestValidator(now, StaticSecrets{invoiceSecret: "s"})
			_, err := validator.Verify(context.Background(), tc.req(), tc.body, invoiceSecret)
			verr, ok := err.(*VerificationError)
			if !ok {
				t.Fatalf("expected verification error, got %v", err)
			}
			if verr.Code != tc.code || verr.Status != tc.status {
				t.Fatalf("expected %s/%d, got %s/%d", tc.code, tc.status, verr.Code, verr.Status)
			}
		})
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret unavailable")
	})
	validator := newTestValidator(time.Now(), provider)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/invoice", bytes.NewReader(nil))
	rr := httptest.NewRecorder()

	validator.RequireHMAC("missing/secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run when secret unavailable")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rr.Code)
	}
}
