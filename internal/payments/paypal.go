package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wagnerwagner/merx/internal/domain"
)

// PayPalKey is the payment method key of the PayPal gateway.
const PayPalKey = "paypal"

const (
	// PayPalSandboxURL is the REST entry point used outside production.
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	// PayPalLiveURL is the production REST entry point.
	PayPalLiveURL = "https://api-m.paypal.com"

	paypalStatusCompleted = "COMPLETED"
	maxPayPalErrorBody    = 4 << 10
)

// PayPalGatewayConfig configures the PayPal Orders v2 gateway.
type PayPalGatewayConfig struct {
	ClientID string
	Secret   string
	BaseURL  string
	// HTTPClient is the transport used for both the token and the API calls.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Clock      func() time.Time
}

// PayPalGateway redirects the buyer to the PayPal approval page and captures the order on return.
type PayPalGateway struct {
	baseURL string
	client  *http.Client
	logger  func(ctx context.Context, event string, fields map[string]any)
	now     func() time.Time
}

// NewPayPalGateway builds a gateway that authenticates with OAuth2 client credentials.
func NewPayPalGateway(cfg PayPalGatewayConfig) (*PayPalGateway, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.Secret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = PayPalSandboxURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("paypal: invalid base url: %w", err)
	}

	transport := cfg.HTTPClient
	if transport == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		transport = &http.Client{Timeout: timeout}
	}

	credentials := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, transport)
	client := credentials.Client(tokenCtx)
	client.Timeout = transport.Timeout

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PayPalGateway{
		baseURL: base,
		client:  client,
		logger:  logger,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

func (g *PayPalGateway) Key() string { return PayPalKey }

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalBreakdown struct {
	ItemTotal *paypalMoney `json:"item_total,omitempty"`
	Discount  *paypalMoney `json:"discount,omitempty"`
}

type paypalAmount struct {
	paypalMoney
	Breakdown *paypalBreakdown `json:"breakdown,omitempty"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalExperienceContext struct {
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
	BrandName          string `json:"brand_name,omitempty"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type paypalCreateOrder struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	PaymentSource map[string]any       `json:"payment_source"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
}

// approveLink returns the buyer approval URL. Orders created with a payment source report it
// as "payer-action", classic orders as "approve".
func (o paypalOrder) approveLink() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// InitializePayment creates a CAPTURE intent order for the staged total.
func (g *PayPalGateway) InitializePayment(ctx context.Context, staged domain.StagedOrder, checkout Checkout) (domain.StagedOrder, error) {
	if !staged.Totals.Price.IsPositive() {
		return staged, domain.NewError(domain.KindEmptyCart, "paypal: order total must be positive", nil)
	}
	unit, err := purchaseUnit(staged, checkout.ShopName)
	if err != nil {
		return staged, gatewayError(PayPalKey, "build purchase unit", err)
	}
	cancelURL := checkout.CancelURL
	if cancelURL == "" {
		cancelURL = checkout.ReturnURL
	}
	request := paypalCreateOrder{
		Intent:        "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{unit},
		PaymentSource: map[string]any{
			"paypal": map[string]any{
				"experience_context": paypalExperienceContext{
					ReturnURL:          checkout.ReturnURL,
					CancelURL:          cancelURL,
					BrandName:          checkout.ShopName,
					UserAction:         "PAY_NOW",
					ShippingPreference: "NO_SHIPPING",
				},
			},
		},
	}

	var order paypalOrder
	if err := g.do(ctx, "/v2/checkout/orders", "merx-init-"+staged.ID, request, &order); err != nil {
		return staged, gatewayError(PayPalKey, "create order", err)
	}
	approve := order.approveLink()
	if order.ID == "" || approve == "" {
		return staged, gatewayError(PayPalKey, "order response has no approval link", nil)
	}

	staged.CorrelationID = order.ID
	staged.RedirectURL = approve
	g.logger(ctx, "payments.paypal.order.created", map[string]any{"paypalOrderId": order.ID, "status": order.Status})
	return staged, nil
}

// CompletePayment captures the approved order. A return without PayerID means the buyer canceled.
func (g *PayPalGateway) CompletePayment(ctx context.Context, staged domain.StagedOrder, data ReturnData) (domain.StagedOrder, error) {
	if data.Get("PayerID") == "" {
		return staged, paymentCanceled(PayPalKey)
	}
	if staged.PaymentComplete {
		return staged, nil
	}
	orderID := staged.CorrelationID
	if orderID == "" {
		orderID = data.Get("token")
	}
	if orderID == "" {
		return staged, gatewayError(PayPalKey, "paypal order id is missing", nil)
	}

	var captured map[string]any
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := g.do(ctx, path, staged.ID, struct{}{}, &captured); err != nil {
		return staged, gatewayError(PayPalKey, "capture order", err)
	}

	staged.CorrelationID = orderID
	status, _ := captured["status"].(string)
	staged.PaymentDetails = captured
	if status == paypalStatusCompleted {
		staged.MarkPaid(g.now(), captured)
	}
	g.logger(ctx, "payments.paypal.order.captured", map[string]any{"paypalOrderId": orderID, "status": status})
	return staged, nil
}

// purchaseUnit folds negative line items into the breakdown discount so item_total minus
// discount equals the charged value.
func purchaseUnit(staged domain.StagedOrder, description string) (paypalPurchaseUnit, error) {
	currency := domain.NormalizeCurrency(staged.Totals.Currency)
	if currency == "" {
		return paypalPurchaseUnit{}, errors.New("currency is required")
	}
	unit := paypalPurchaseUnit{
		ReferenceID: staged.ID,
		CustomID:    staged.ID,
		Description: description,
		Amount:      paypalAmount{paypalMoney: paypalMoney{CurrencyCode: currency, Value: paypalValue(staged.Totals.Price)}},
	}

	items, err := staged.ListItems()
	if err != nil {
		return unit, nil
	}
	itemTotal := decimal.Zero
	discount := decimal.Zero
	for _, item := range items.Items() {
		total, ok := item.Total()
		if !ok {
			continue
		}
		if total.Gross().IsNegative() {
			discount = discount.Add(total.Gross().Abs())
		} else {
			itemTotal = itemTotal.Add(total.Gross())
		}
	}
	if discount.IsPositive() && itemTotal.Sub(discount).Equal(staged.Totals.Price) {
		unit.Amount.Breakdown = &paypalBreakdown{
			ItemTotal: &paypalMoney{CurrencyCode: currency, Value: paypalValue(itemTotal)},
			Discount:  &paypalMoney{CurrencyCode: currency, Value: paypalValue(discount)},
		}
	}
	return unit, nil
}

func paypalValue(v decimal.Decimal) string {
	return v.StringFixed(2)
}

// paypalAPIError carries the status and body of a rejected request.
type paypalAPIError struct {
	Status int
	Body   string
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal api responded %d: %s", e.Status, e.Body)
}

func (g *PayPalGateway) do(ctx context.Context, path, requestID string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxPayPalErrorBody))
		return &paypalAPIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
