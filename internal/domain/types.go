package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// OrderTotals is the denormalised total of an order or staged order.
type OrderTotals struct {
	Price    decimal.Decimal `json:"price" yaml:"price"`
	PriceNet decimal.Decimal `json:"priceNet" yaml:"pricenet"`
	Tax      decimal.Decimal `json:"tax" yaml:"tax"`
	Currency string          `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// TotalsFromPrice snapshots an aggregate total.
func TotalsFromPrice(p Price) OrderTotals {
	net, _ := p.Net()
	totals := OrderTotals{Price: p.Gross(), PriceNet: net, Currency: p.Currency()}
	if tax := p.Tax(); tax != nil {
		totals.Tax = tax.Amount()
	}
	return totals
}

// StagedOrder is an order candidate held between checkout initialisation and payment completion.
type StagedOrder struct {
	ID            string            `json:"id"`
	Slug          string            `json:"slug"`
	SessionToken  string            `json:"sessionToken,omitempty"`
	Items         []ListItemInput   `json:"items"`
	Totals        OrderTotals       `json:"totals"`
	Fields        map[string]string `json:"fields,omitempty"`
	PaymentMethod string            `json:"paymentMethod"`
	// CorrelationID is the gateway-side identifier, e.g. a Stripe PaymentIntent id.
	CorrelationID   string            `json:"correlationId,omitempty"`
	GatewayData     map[string]string `json:"gatewayData,omitempty"`
	RedirectURL     string            `json:"redirectUrl,omitempty"`
	PaymentComplete bool              `json:"paymentComplete"`
	PaidAt          *time.Time        `json:"paidAt,omitempty"`
	PaymentDetails  map[string]any    `json:"paymentDetails,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// ListItems rebuilds the snapshot as an aggregate.
func (s StagedOrder) ListItems() (*ListItems, error) {
	return ListItemsFromInputs(s.Items)
}

// SetGatewayData records a gateway-specific value.
func (s *StagedOrder) SetGatewayData(key, value string) {
	if s.GatewayData == nil {
		s.GatewayData = make(map[string]string)
	}
	s.GatewayData[key] = value
}

// MarkPaid flags the staged order as paid once; later calls keep the first timestamp.
func (s *StagedOrder) MarkPaid(at time.Time, details map[string]any) {
	if !s.PaymentComplete || s.PaidAt == nil {
		paid := at.UTC()
		s.PaidAt = &paid
	}
	s.PaymentComplete = true
	if details != nil {
		s.PaymentDetails = details
	}
}

// Order is the persisted, finalized order snapshot.
type Order struct {
	ID              string            `json:"id" yaml:"id"`
	Number          string            `json:"number" yaml:"number"`
	Sequence        int64             `json:"sequence" yaml:"sequence"`
	AccessUUID      string            `json:"-" yaml:"uuid"`
	Items           []ListItemInput   `json:"items" yaml:"items"`
	Totals          OrderTotals       `json:"totals" yaml:"totals"`
	Fields          map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	PaymentMethod   string            `json:"paymentMethod" yaml:"paymentmethod"`
	CorrelationID   string            `json:"-" yaml:"correlationid,omitempty"`
	PaymentComplete bool              `json:"paymentComplete" yaml:"paymentcomplete"`
	PaidAt          *time.Time        `json:"paidAt,omitempty" yaml:"paiddate,omitempty"`
	PaymentDetails  map[string]any    `json:"paymentDetails,omitempty" yaml:"paymentdetails,omitempty"`
	InvoiceDate     time.Time         `json:"invoiceDate" yaml:"invoicedate"`
	CreatedAt       time.Time         `json:"createdAt" yaml:"created"`
	UpdatedAt       time.Time         `json:"updatedAt" yaml:"updated"`
}

// Title is the human-readable order title.
func (o Order) Title() string {
	return o.Number
}

// ListItems rebuilds the order's line items.
func (o Order) ListItems() (*ListItems, error) {
	return ListItemsFromInputs(o.Items)
}

// SecureHash is the short access hash appended to order URLs.
func (o Order) SecureHash() string {
	return SecureHash(o.AccessUUID)
}

// SecureHash derives "abc-def" from the first six hex digits of sha256(accessUUID).
func SecureHash(accessUUID string) string {
	if accessUUID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(accessUUID))
	digest := hex.EncodeToString(sum[:])
	return digest[0:3] + "-" + digest[3:6]
}

// Product is a catalogue entry line items can reference by key.
type Product struct {
	Key     string                     `json:"key" yaml:"key" firestore:"key"`
	Title   string                     `json:"title" yaml:"title" firestore:"title"`
	Prices  map[string]decimal.Decimal `json:"prices,omitempty" yaml:"prices,omitempty" firestore:"-"`
	TaxRule string                     `json:"taxRule,omitempty" yaml:"taxrule,omitempty" firestore:"taxRule"`
	Type    ListItemType               `json:"type,omitempty" yaml:"type,omitempty" firestore:"type"`
	// MaxAmount caps the orderable quantity when set.
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty" yaml:"maxamount,omitempty" firestore:"-"`
	Data      map[string]any   `json:"data,omitempty" yaml:"data,omitempty" firestore:"data"`
}

// PriceIn returns the product's list price in currency.
func (p Product) PriceIn(currency string) (decimal.Decimal, bool) {
	value, ok := p.Prices[NormalizeCurrency(currency)]
	return value, ok
}

// Health statuses.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
