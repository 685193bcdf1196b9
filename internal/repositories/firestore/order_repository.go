package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wagnerwagner/merx/internal/domain"
	pfirestore "github.com/wagnerwagner/merx/internal/platform/firestore"
	"github.com/wagnerwagner/merx/internal/repositories"
)

// orderDocument stores decimals as strings and line items as their YAML snapshot.
type orderDocument struct {
	ID              string            `firestore:"id"`
	Number          string            `firestore:"number"`
	Sequence        int64             `firestore:"sequence"`
	AccessUUID      string            `firestore:"uuid"`
	ItemsYAML       string            `firestore:"items"`
	Price           string            `firestore:"price"`
	PriceNet        string            `firestore:"priceNet"`
	Tax             string            `firestore:"tax"`
	Currency        string            `firestore:"currency,omitempty"`
	Fields          map[string]string `firestore:"fields,omitempty"`
	PaymentMethod   string            `firestore:"paymentMethod"`
	CorrelationID   string            `firestore:"correlationId,omitempty"`
	PaymentComplete bool              `firestore:"paymentComplete"`
	PaidAt          *time.Time        `firestore:"paidAt"`
	PaymentDetails  map[string]any    `firestore:"paymentDetails,omitempty"`
	InvoiceDate     time.Time         `firestore:"invoiceDate"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

// OrderRepository persists orders in a Firestore collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository binds the repository to collection (defaults to "orders").
func NewOrderRepository(provider *pfirestore.Provider, collection string) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = "orders"
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, collection),
		now:      time.Now,
	}, nil
}

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	doc, err := encodeOrder(order)
	if err != nil {
		return domain.Order{}, false, err
	}
	err = r.orders.Create(ctx, order.ID, doc)
	if pfirestore.IsConflict(err) {
		existing, getErr := r.Get(ctx, order.ID)
		return existing, false, getErr
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc)
}

func (r *OrderRepository) FindByCorrelation(ctx context.Context, correlationID string) (domain.Order, error) {
	doc, _, err := r.orders.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("correlationId", "==", strings.TrimSpace(correlationID))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc)
}

// MarkPaid runs in a transaction so concurrent webhook and return-flow updates set paidAt once.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, details map[string]any) (domain.Order, bool, error) {
	ref, err := r.orders.Doc(ctx, id)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		result  orderDocument
		changed bool
	)
	err = r.provider.RunTransaction(ctx, "orders.markPaid", func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		changed = doc.PaidAt == nil
		if changed {
			paid := paidAt.UTC()
			doc.PaidAt = &paid
			doc.PaymentComplete = true
			if details != nil {
				doc.PaymentDetails = details
			}
			doc.UpdatedAt = r.now().UTC()
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
		}
		result = doc
		return nil
	})
	if err != nil {
		return domain.Order{}, false, pfirestore.WrapError("orders.markPaid", err)
	}
	order, err := decodeOrder(result)
	return order, changed, err
}

func encodeOrder(order domain.Order) (orderDocument, error) {
	items, err := yaml.Marshal(order.Items)
	if err != nil {
		return orderDocument{}, err
	}
	return orderDocument{
		ID:              order.ID,
		Number:          order.Number,
		Sequence:        order.Sequence,
		AccessUUID:      order.AccessUUID,
		ItemsYAML:       string(items),
		Price:           order.Totals.Price.String(),
		PriceNet:        order.Totals.PriceNet.String(),
		Tax:             order.Totals.Tax.String(),
		Currency:        order.Totals.Currency,
		Fields:          order.Fields,
		PaymentMethod:   order.PaymentMethod,
		CorrelationID:   order.CorrelationID,
		PaymentComplete: order.PaymentComplete,
		PaidAt:          order.PaidAt,
		PaymentDetails:  order.PaymentDetails,
		InvoiceDate:     order.InvoiceDate,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}, nil
}

func decodeOrder(doc orderDocument) (domain.Order, error) {
	var items []domain.ListItemInput
	if err := yaml.Unmarshal([]byte(doc.ItemsYAML), &items); err != nil {
		return domain.Order{}, domain.NewError(domain.KindInternal, "order items are corrupt", err)
	}
	return domain.Order{
		ID:         doc.ID,
		Number:     doc.Number,
		Sequence:   doc.Sequence,
		AccessUUID: doc.AccessUUID,
		Items:      items,
		Totals: domain.OrderTotals{
			Price:    parseDecimal(doc.Price),
			PriceNet: parseDecimal(doc.PriceNet),
			Tax:      parseDecimal(doc.Tax),
			Currency: doc.Currency,
		},
		Fields:          doc.Fields,
		PaymentMethod:   doc.PaymentMethod,
		CorrelationID:   doc.CorrelationID,
		PaymentComplete: doc.PaymentComplete,
		PaidAt:          doc.PaidAt,
		PaymentDetails:  doc.PaymentDetails,
		InvoiceDate:     doc.InvoiceDate,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

func parseDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}
