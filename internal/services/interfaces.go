package services

import (
	"context"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/payments"
	"github.com/wagnerwagner/merx/internal/platform/session"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order       = domain.Order
	StagedOrder = domain.StagedOrder
	OrderTotals = domain.OrderTotals
	RuleContext = domain.RuleContext
)

// Logger is the structured logging contract shared by the services.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// CartRef identifies the visitor cart a call operates on together with the request's rule
// context. An empty Rules.Currency falls back to the currency stored in the session.
type CartRef struct {
	Session *session.Session
	Rules   RuleContext
}

// Cart is the resolved cart of one visitor session.
type Cart struct {
	Items *domain.ListItems
	// Context is the rule context the prices were resolved with.
	Context RuleContext
	// Rule is the applicable pricing rule; nil when no rule matched and catalogue items are
	// therefore price-on-request.
	Rule *domain.PricingRule
}

// CartService manages the session-backed cart.
type CartService interface {
	Load(ctx context.Context, ref CartRef) (Cart, error)
	Add(ctx context.Context, ref CartRef, in domain.ListItemInput) (Cart, error)
	Remove(ctx context.Context, ref CartRef, key string) (Cart, error)
	UpdateItem(ctx context.Context, ref CartRef, key string, patch domain.ListItemPatch) (Cart, error)
	Delete(ctx context.Context, ref CartRef) error
	SetCurrency(ctx context.Context, ref CartRef, currency string) (Cart, error)
}

// InitializeOrderCommand carries the checkout submission.
type InitializeOrderCommand struct {
	Cart          CartRef
	PaymentMethod string
	Fields        map[string]string
	Checkout      payments.Checkout
}

// InitializeOrderResult describes where the buyer goes next.
type InitializeOrderResult struct {
	Staged      StagedOrder
	RedirectURL string
	// StagedToken is the signed token that lets the return request resolve the staged order
	// without the session cookie.
	StagedToken  string
	ClientSecret string
}

// CompletePaymentCommand carries the buyer's return from the gateway.
type CompletePaymentCommand struct {
	Cart CartRef
	// StagedToken is the signed fallback token taken from the return URL, if any.
	StagedToken string
	ReturnData  payments.ReturnData
}

// WebhookOutcome reports what a reconciled webhook changed.
type WebhookOutcome string

const (
	WebhookIgnored  WebhookOutcome = "ignored"
	WebhookPaid     WebhookOutcome = "paid"
	WebhookNoop     WebhookOutcome = "noop"
	WebhookNotFound WebhookOutcome = "not_found"
)

// ReconcileResult summarises a webhook delivery.
type ReconcileResult struct {
	Type    string
	Outcome WebhookOutcome
	OrderID string
}

// OrderService is the order lifecycle orchestrator.
type OrderService interface {
	InitializeOrder(ctx context.Context, cmd InitializeOrderCommand) (InitializeOrderResult, error)
	CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error)
	ReconcileWebhook(ctx context.Context, gateway string, event payments.WebhookEvent) (ReconcileResult, error)
	GetOrder(ctx context.Context, id string) (Order, error)
}

// Order event types.
const (
	OrderEventCreated = "order.created"
	OrderEventPaid    = "order.paid"
)

// OrderEvent is the message published for order lifecycle transitions.
type OrderEvent struct {
	Type          string      `json:"type"`
	OrderID       string      `json:"orderId"`
	Number        string      `json:"number"`
	PaymentMethod string      `json:"paymentMethod"`
	Totals        OrderTotals `json:"totals"`
	PaidAt        *time.Time  `json:"paidAt,omitempty"`
	OccurredAt    time.Time   `json:"occurredAt"`
}

// OrderEventPublisher emits order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderArchiver stores an immutable snapshot of a finalized order and returns its location.
type OrderArchiver interface {
	ArchiveOrder(ctx context.Context, order Order) (string, error)
}
