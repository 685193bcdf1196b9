package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
)

func TestOrderDocumentRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("99.99")
	qty := decimal.NewFromInt(2)
	paid := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:         "01HZX",
		Number:     "M-00042",
		Sequence:   42,
		AccessUUID: "a1b2",
		Items:      []domain.ListItemInput{{Key: "shirt", Price: &price, Quantity: &qty, Currency: "EUR"}},
		Totals: domain.OrderTotals{
			Price:    decimal.RequireFromString("199.98"),
			PriceNet: decimal.RequireFromString("168.05"),
			Tax:      decimal.RequireFromString("31.93"),
			Currency: "EUR",
		},
		Fields:          map[string]string{"email": "ada@example.com"},
		PaymentMethod:   "invoice",
		CorrelationID:   "01HZX",
		PaymentComplete: true,
		PaidAt:          &paid,
	}

	doc, err := encodeOrder(order)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if doc.Price != "199.98" || doc.CorrelationID != "01HZX" {
		t.Fatalf("unexpected document %+v", doc)
	}

	decoded, err := decodeOrder(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Number != order.Number || !decoded.Totals.Tax.Equal(order.Totals.Tax) {
		t.Fatalf("unexpected order %+v", decoded)
	}
	if len(decoded.Items) != 1 || !decoded.Items[0].Price.Equal(price) || !decoded.Items[0].Quantity.Equal(qty) {
		t.Fatalf("unexpected items %+v", decoded.Items)
	}
	if decoded.PaidAt == nil || !decoded.PaidAt.Equal(paid) {
		t.Fatalf("unexpected paidAt %v", decoded.PaidAt)
	}
}

func TestDecodeOrderRejectsCorruptItems(t *testing.T) {
	_, err := decodeOrder(orderDocument{ID: "x", ItemsYAML: "key: [unterminated"})
	if !domain.IsKind(err, domain.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
