// Package repositories defines the persistence boundary of the shop: finalized orders,
// catalogue products and sequential counters.
package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Orders() OrderRepository
	Catalogue() CatalogueRepository
	Counters() CounterRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists finalized orders. Create is create-if-absent keyed by the order id;
// MarkPaid flips the payment fields at most once.
type OrderRepository interface {
	// Create stores order unless an order with the same id exists. created is false when the
	// existing order is returned instead.
	Create(ctx context.Context, order domain.Order) (stored domain.Order, created bool, err error)
	Get(ctx context.Context, id string) (domain.Order, error)
	FindByCorrelation(ctx context.Context, correlationID string) (domain.Order, error)
	// MarkPaid sets paymentComplete and paidAt when paidAt is unset. changed is false when the
	// order was already paid.
	MarkPaid(ctx context.Context, id string, paidAt time.Time, details map[string]any) (order domain.Order, changed bool, err error)
}

// CatalogueRepository resolves catalogue products referenced by line item keys.
type CatalogueRepository interface {
	Get(ctx context.Context, key string) (domain.Product, error)
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// IsNotFound reports whether err is a repository not-found failure.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
