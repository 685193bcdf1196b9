package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/wagnerwagner/merx/internal/domain"
)

// StripeKey is the payment method key of the Stripe gateway.
const StripeKey = "stripe"

const (
	stripeSignatureHeader = "Stripe-Signature"
	gatewayDataClientKey  = "clientSecret"

	stripeEventIntentSucceeded = "payment_intent.succeeded"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the Stripe gateway.
type StripeGatewayConfig struct {
	SecretKey       string
	WebhookSecret   string
	PaymentMethods  []string
	DefaultCurrency string
	Backends        *stripe.Backends
	Logger          StripeLogger
	Clock           func() time.Time
	intents         stripePaymentIntentAPI
}

// StripeGateway charges through PaymentIntents. Card payments are authorised at checkout and
// captured on completion; SEPA debits capture automatically and settle by webhook.
type StripeGateway struct {
	intents         stripePaymentIntentAPI
	webhookSecret   string
	methods         []string
	defaultCurrency string
	logger          StripeLogger
	now             func() time.Time
}

// NewStripeGateway constructs the gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents := cfg.intents
	if intents == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		intents = client.New(key, cfg.Backends).PaymentIntents
	}

	methods := make([]string, 0, len(cfg.PaymentMethods))
	for _, method := range cfg.PaymentMethods {
		if method = strings.ToLower(strings.TrimSpace(method)); method != "" {
			methods = append(methods, method)
		}
	}
	if len(methods) == 0 {
		methods = []string{"card"}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "eur"
	}

	return &StripeGateway{
		intents:         intents,
		webhookSecret:   strings.TrimSpace(cfg.WebhookSecret),
		methods:         methods,
		defaultCurrency: currency,
		logger:          logger,
		now:             func() time.Time { return clock().UTC() },
	}, nil
}

func (g *StripeGateway) Key() string { return StripeKey }

// captureMethod is manual for card-only intents; any asynchronous method forces automatic capture.
func (g *StripeGateway) captureMethod() stripe.PaymentIntentCaptureMethod {
	for _, method := range g.methods {
		if method != "card" {
			return stripe.PaymentIntentCaptureMethodAutomatic
		}
	}
	return stripe.PaymentIntentCaptureMethodManual
}

// MinorUnits converts a gross total into the integer amount Stripe expects.
func MinorUnits(total decimal.Decimal) int64 {
	return total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// InitializePayment creates the PaymentIntent and exposes its client secret as gateway data.
func (g *StripeGateway) InitializePayment(ctx context.Context, staged domain.StagedOrder, checkout Checkout) (domain.StagedOrder, error) {
	amount := MinorUnits(staged.Totals.Price)
	if amount <= 0 {
		return staged, domain.NewError(domain.KindEmptyCart, "stripe: order total must be positive", nil)
	}
	currency := strings.ToLower(staged.Totals.Currency)
	if currency == "" {
		currency = g.defaultCurrency
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice(g.methods),
		CaptureMethod:      stripe.String(string(g.captureMethod())),
	}
	params.Context = ctx
	params.SetIdempotencyKey("merx-init-" + staged.ID)
	params.AddMetadata("staged_id", staged.ID)
	if email := strings.TrimSpace(staged.Fields["email"]); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return staged, gatewayError(StripeKey, "create payment intent", err)
	}

	staged.CorrelationID = intent.ID
	staged.SetGatewayData(gatewayDataClientKey, intent.ClientSecret)
	if staged.RedirectURL == "" {
		staged.RedirectURL = checkout.ReturnURL
	}
	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"intentId": intent.ID,
		"amount":   amount,
		"currency": currency,
		"capture":  string(g.captureMethod()),
	})
	return staged, nil
}

// CompletePayment captures authorised card payments and records intent state. Intents that
// are still processing stay unpaid until the webhook arrives.
func (g *StripeGateway) CompletePayment(ctx context.Context, staged domain.StagedOrder, data ReturnData) (domain.StagedOrder, error) {
	if data.Get("redirect_status") == "failed" {
		return staged, paymentCanceled(StripeKey)
	}
	if staged.PaymentComplete {
		return staged, nil
	}
	id := staged.CorrelationID
	if returned := data.Get("payment_intent"); returned != "" {
		if id != "" && returned != id {
			return staged, foreignIntent(returned, "intent id differs from the staged intent")
		}
		id = returned
	}
	if id == "" {
		return staged, gatewayError(StripeKey, "payment intent id is missing", nil)
	}

	getParams := &stripe.PaymentIntentParams{}
	getParams.Context = ctx
	intent, err := g.intents.Get(id, getParams)
	if err != nil {
		return staged, gatewayError(StripeKey, "retrieve payment intent", err)
	}
	if err := g.checkOwnership(intent, staged); err != nil {
		return staged, err
	}
	if intent.Status == stripe.PaymentIntentStatusCanceled || intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
		return staged, paymentCanceled(StripeKey)
	}

	if intent.Status == stripe.PaymentIntentStatusRequiresCapture {
		params := &stripe.PaymentIntentCaptureParams{}
		params.Context = ctx
		params.SetIdempotencyKey("merx-capture-" + id)
		params.AddMetadata("order_id", staged.ID)
		intent, err = g.intents.Capture(id, params)
		if err != nil {
			return staged, gatewayError(StripeKey, "capture payment intent", err)
		}
	} else {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddMetadata("order_id", staged.ID)
		if updated, err := g.intents.Update(id, params); err == nil {
			intent = updated
		} else {
			g.logger(ctx, "payments.stripe.metadata.failed", map[string]any{"intentId": id, "error": err})
		}
	}

	staged.CorrelationID = intent.ID
	details := intentDetails(intent)
	staged.PaymentDetails = details
	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		staged.MarkPaid(g.now(), details)
	}
	g.logger(ctx, "payments.stripe.intent.completed", map[string]any{"intentId": intent.ID, "status": string(intent.Status)})
	return staged, nil
}

// checkOwnership requires the intent to have been created for staged, for its amount and currency.
func (g *StripeGateway) checkOwnership(intent *stripe.PaymentIntent, staged domain.StagedOrder) error {
	if intent.Metadata["staged_id"] != staged.ID {
		return foreignIntent(intent.ID, "intent was created for another order")
	}
	if intent.Amount != MinorUnits(staged.Totals.Price) {
		return foreignIntent(intent.ID, fmt.Sprintf("intent amount %d does not match order total", intent.Amount))
	}
	currency := strings.ToLower(staged.Totals.Currency)
	if currency == "" {
		currency = g.defaultCurrency
	}
	if !strings.EqualFold(string(intent.Currency), currency) {
		return foreignIntent(intent.ID, fmt.Sprintf("intent currency %s does not match order currency", intent.Currency))
	}
	return nil
}

func foreignIntent(id, reason string) error {
	return domain.NewError(domain.KindPaymentCanceled, "stripe: "+reason, nil).
		WithDetails(map[string]any{"gateway": StripeKey, "intentId": id})
}

// ParseWebhook verifies the Stripe-Signature header. Only payment_intent.succeeded settles an order.
func (g *StripeGateway) ParseWebhook(_ context.Context, r *http.Request, body []byte) (WebhookEvent, error) {
	if g.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: stripe webhook secret is not configured", ErrWebhookSignature)
	}
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get(stripeSignatureHeader), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrWebhookSignature, err)
	}

	out := WebhookEvent{Type: string(event.Type), OccurredAt: time.Unix(event.Created, 0).UTC()}
	if string(event.Type) != stripeEventIntentSucceeded || event.Data == nil {
		return out, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out.CorrelationID = intent.ID
	out.Paid = true
	out.Details = intentDetails(&intent)
	out.Details["eventId"] = event.ID
	return out, nil
}

func intentDetails(intent *stripe.PaymentIntent) map[string]any {
	details := map[string]any{
		"id":       intent.ID,
		"status":   string(intent.Status),
		"amount":   intent.Amount,
		"currency": string(intent.Currency),
	}
	if intent.CaptureMethod != "" {
		details["captureMethod"] = string(intent.CaptureMethod)
	}
	if len(intent.PaymentMethodTypes) > 0 {
		details["paymentMethodTypes"] = intent.PaymentMethodTypes
	}
	return details
}
