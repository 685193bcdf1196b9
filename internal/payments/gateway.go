// Package payments defines the two-phase gateway protocol and its invoice, Stripe and PayPal
// implementations.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
)

// ErrWebhookSignature marks webhook payloads whose signature could not be verified.
var ErrWebhookSignature = errors.New("payments: webhook signature invalid")

// Gateway is a payment method handler. The phases are optional interfaces: a gateway
// implements Initializer, Completer and WebhookParser only when it needs them.
type Gateway interface {
	Key() string
}

// Checkout carries the per-call context of an initialization.
type Checkout struct {
	// ReturnURL is where the buyer lands after the external payment flow.
	ReturnURL string
	CancelURL string
	ShopName  string
}

// Initializer runs before the buyer is redirected to the external payment flow. It may set
// RedirectURL, CorrelationID and GatewayData on the staged order.
type Initializer interface {
	InitializePayment(ctx context.Context, staged domain.StagedOrder, checkout Checkout) (domain.StagedOrder, error)
}

// Completer finishes the payment once the buyer returns. Calling it again for a staged
// order that is already complete must not charge twice.
type Completer interface {
	CompletePayment(ctx context.Context, staged domain.StagedOrder, data ReturnData) (domain.StagedOrder, error)
}

// WebhookParser verifies and decodes an out-of-band gateway notification.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, r *http.Request, body []byte) (WebhookEvent, error)
}

// WebhookEvent is a verified gateway notification. Paid marks events that settle the order
// identified by CorrelationID; other events are acknowledged and ignored.
type WebhookEvent struct {
	Type          string
	CorrelationID string
	Paid          bool
	OccurredAt    time.Time
	Details       map[string]any
}

// ReturnData is the flattened query and form data of the buyer's return request.
type ReturnData map[string]string

// Get returns the trimmed value for key.
func (d ReturnData) Get(key string) string {
	return strings.TrimSpace(d[key])
}

// Has reports whether key was supplied.
func (d ReturnData) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Registry maps payment method keys onto gateways.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry indexes gateways by lower-case key. Duplicate keys are rejected.
func NewRegistry(gateways ...Gateway) (*Registry, error) {
	registry := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gateway := range gateways {
		if gateway == nil {
			continue
		}
		key := normaliseKey(gateway.Key())
		if key == "" {
			return nil, errors.New("payments: gateway key is required")
		}
		if _, exists := registry.gateways[key]; exists {
			return nil, fmt.Errorf("payments: gateway %q registered twice", key)
		}
		registry.gateways[key] = gateway
	}
	return registry, nil
}

// Resolve returns the gateway for a payment method.
func (r *Registry) Resolve(paymentMethod string) (Gateway, error) {
	key := normaliseKey(paymentMethod)
	if r != nil {
		if gateway, ok := r.gateways[key]; ok {
			return gateway, nil
		}
	}
	return nil, domain.NewError(domain.KindUnknownGateway, fmt.Sprintf("payment method %q is not available", paymentMethod), nil)
}

// Keys lists the registered payment methods in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.gateways))
	for key := range r.gateways {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func gatewayError(gateway, message string, cause error) error {
	return domain.NewError(domain.KindGatewayError, gateway+": "+message, cause)
}

func paymentCanceled(gateway string) error {
	return domain.NewError(domain.KindPaymentCanceled, gateway+": payment canceled by buyer", nil)
}
