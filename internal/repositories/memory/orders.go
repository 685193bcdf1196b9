// Package memory provides in-process repositories for local development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

// OrderRepository stores orders in a map guarded by a mutex.
type OrderRepository struct {
	mu            sync.RWMutex
	orders        map[string]domain.Order
	byCorrelation map[string]string
	now           func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:        make(map[string]domain.Order),
		byCorrelation: make(map[string]string),
		now:           time.Now,
	}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) (domain.Order, bool, error) {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, false, repositories.NewStoreError("orders.create", repositories.ErrorUnknown, errMissingID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.orders[id]; ok {
		return cloneOrder(existing), false, nil
	}
	stored := cloneOrder(order)
	r.orders[id] = stored
	if stored.CorrelationID != "" {
		r.byCorrelation[stored.CorrelationID] = id
	}
	return cloneOrder(stored), true, nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(id)]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.get", "order "+id)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByCorrelation(_ context.Context, correlationID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCorrelation[strings.TrimSpace(correlationID)]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.findByCorrelation", "order for correlation "+correlationID)
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *OrderRepository) MarkPaid(_ context.Context, id string, paidAt time.Time, details map[string]any) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[strings.TrimSpace(id)]
	if !ok {
		return domain.Order{}, false, repositories.NotFound("orders.markPaid", "order "+id)
	}
	if order.PaidAt != nil {
		return cloneOrder(order), false, nil
	}
	paid := paidAt.UTC()
	order.PaymentComplete = true
	order.PaidAt = &paid
	if details != nil {
		order.PaymentDetails = details
	}
	order.UpdatedAt = r.now().UTC()
	r.orders[order.ID] = order
	return cloneOrder(order), true, nil
}

// Len reports how many orders are stored.
func (r *OrderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = append([]domain.ListItemInput(nil), order.Items...)
	if order.Fields != nil {
		out.Fields = make(map[string]string, len(order.Fields))
		for k, v := range order.Fields {
			out.Fields[k] = v
		}
	}
	if order.PaidAt != nil {
		paid := *order.PaidAt
		out.PaidAt = &paid
	}
	return out
}
