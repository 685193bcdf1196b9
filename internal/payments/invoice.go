package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wagnerwagner/merx/internal/platform/auth"
)

// InvoiceKey is the payment method key of the invoice gateway.
const InvoiceKey = "invoice"

// EventPaymentReceived is the notification type bank reconciliation posts once an invoice is settled.
const EventPaymentReceived = "payment.received"

type webhookVerifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte, secretName string) (*auth.HMACMetadata, error)
}

// Invoice is the pay-later gateway. It has no initialize or complete phase; its orders are
// settled by a signed reconciliation webhook.
type Invoice struct {
	verifier   webhookVerifier
	secretName string
	now        func() time.Time
}

// NewInvoice constructs the gateway. A nil verifier disables the webhook.
func NewInvoice(verifier webhookVerifier, secretName string) *Invoice {
	return &Invoice{verifier: verifier, secretName: secretName, now: time.Now}
}

func (g *Invoice) Key() string { return InvoiceKey }

type invoiceNotification struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlationId"`
	PaidAt        *time.Time     `json:"paidAt,omitempty"`
	Reference     string         `json:"reference,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// ParseWebhook verifies the HMAC signature and decodes the notification.
func (g *Invoice) ParseWebhook(ctx context.Context, r *http.Request, body []byte) (WebhookEvent, error) {
	if g.verifier == nil {
		return WebhookEvent{}, fmt.Errorf("%w: invoice webhooks are not configured", ErrWebhookSignature)
	}
	if _, err := g.verifier.Verify(ctx, r, body, g.secretName); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrWebhookSignature, err)
	}

	var note invoiceNotification
	if err := json.Unmarshal(body, &note); err != nil {
		return WebhookEvent{}, fmt.Errorf("invoice: decode notification: %w", err)
	}
	note.Type = strings.TrimSpace(note.Type)
	if note.Type == "" {
		return WebhookEvent{}, errors.New("invoice: notification type is required")
	}

	event := WebhookEvent{
		Type:          note.Type,
		CorrelationID: strings.TrimSpace(note.CorrelationID),
		Paid:          note.Type == EventPaymentReceived,
		OccurredAt:    g.now().UTC(),
		Details:       note.Details,
	}
	if note.PaidAt != nil {
		event.OccurredAt = note.PaidAt.UTC()
	}
	if note.Reference != "" {
		if event.Details == nil {
			event.Details = make(map[string]any, 1)
		}
		event.Details["reference"] = note.Reference
	}
	return event, nil
}
