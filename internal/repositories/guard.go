package repositories

import (
	"context"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/auth"
)

// GuardOrders wraps repo so that writes require the system identity on the context.
// Reads pass through.
func GuardOrders(repo OrderRepository) OrderRepository {
	if repo == nil {
		return nil
	}
	if _, ok := repo.(guardedOrders); ok {
		return repo
	}
	return guardedOrders{inner: repo}
}

type guardedOrders struct {
	inner OrderRepository
}

func errPrivilegeRequired(op string) error {
	return domain.NewError(domain.KindForbidden, op+" requires the system identity", nil)
}

func (g guardedOrders) Create(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if !auth.IsPrivileged(ctx) {
		return domain.Order{}, false, errPrivilegeRequired("orders.create")
	}
	return g.inner.Create(ctx, order)
}

func (g guardedOrders) MarkPaid(ctx context.Context, id string, paidAt time.Time, details map[string]any) (domain.Order, bool, error) {
	if !auth.IsPrivileged(ctx) {
		return domain.Order{}, false, errPrivilegeRequired("orders.markPaid")
	}
	return g.inner.MarkPaid(ctx, id, paidAt, details)
}

func (g guardedOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	return g.inner.Get(ctx, id)
}

func (g guardedOrders) FindByCorrelation(ctx context.Context, correlationID string) (domain.Order, error) {
	return g.inner.FindByCorrelation(ctx, correlationID)
}
