package payments

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wagnerwagner/merx/internal/platform/auth"
)

const invoiceSecret = "invoice-secret"

func newSignedInvoiceRequest(t *testing.T, body []byte, secret, nonce string, at time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/invoice", bytes.NewReader(body))
	auth.SignRequest(req, body, secret, nonce, at)
	return req
}

func newInvoiceGateway(now time.Time) *Invoice {
	validator := auth.NewHMACValidator(
		auth.StaticSecrets{"invoice": invoiceSecret},
		auth.NewInMemoryNonceStore(),
		auth.WithHMACClock(func() time.Time { return now }),
	)
	gateway := NewInvoice(validator, "invoice")
	gateway.now = func() time.Time { return now }
	return gateway
}

func TestInvoiceParseWebhookPaymentReceived(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	gateway := newInvoiceGateway(now)

	body := []byte(`{"type":"payment.received","correlationId":"01HSTAGED","reference":"BANK-42"}`)
	req := newSignedInvoiceRequest(t, body, invoiceSecret, "nonce-1", now)

	event, err := gateway.ParseWebhook(context.Background(), req, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if !event.Paid || event.CorrelationID != "01HSTAGED" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.OccurredAt.Equal(now) {
		t.Fatalf("expected occurredAt %v, got %v", now, event.OccurredAt)
	}
	if event.Details["reference"] != "BANK-42" {
		t.Fatalf("expected reference detail, got %v", event.Details)
	}
}

func TestInvoiceParseWebhookOtherTypesAreNotPaid(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	gateway := newInvoiceGateway(now)

	paidAt := now.Add(-time.Hour)
	body := []byte(`{"type":"invoice.sent","correlationId":"x","paidAt":"` + paidAt.Format(time.RFC3339) + `"}`)
	event, err := gateway.ParseWebhook(context.Background(), newSignedInvoiceRequest(t, body, invoiceSecret, "n", now), body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Paid {
		t.Fatalf("non payment events must not settle an order")
	}
	if !event.OccurredAt.Equal(paidAt) {
		t.Fatalf("expected paidAt to drive occurredAt, got %v", event.OccurredAt)
	}
}

func TestInvoiceParseWebhookRejectsBadSignature(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	gateway := newInvoiceGateway(now)

	body := []byte(`{"type":"payment.received","correlationId":"x"}`)
	_, err := gateway.ParseWebhook(context.Background(), newSignedInvoiceRequest(t, body, "wrong", "n", now), body)
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
	var verr *auth.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected verification error in chain, got %T", err)
	}
}

func TestInvoiceParseWebhookRejectsReplay(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	gateway := newInvoiceGateway(now)
	body := []byte(`{"type":"payment.received","correlationId":"x"}`)

	if _, err := gateway.ParseWebhook(context.Background(), newSignedInvoiceRequest(t, body, invoiceSecret, "same", now), body); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	_, err := gateway.ParseWebhook(context.Background(), newSignedInvoiceRequest(t, body, invoiceSecret, "same", now), body)
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected replayed nonce to be rejected, got %v", err)
	}
}

func TestInvoiceWithoutVerifierRejectsWebhooks(t *testing.T) {
	gateway := NewInvoice(nil, "invoice")
	req := httptest.NewRequest(http.MethodPost, "/hooks/invoice", nil)
	if _, err := gateway.ParseWebhook(context.Background(), req, nil); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}
