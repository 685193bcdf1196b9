package firestore

import (
	"context"

	pfirestore "github.com/wagnerwagner/merx/internal/platform/firestore"
	"github.com/wagnerwagner/merx/internal/repositories"
)

// Registry bundles the Firestore repositories sharing one provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	catalogue *CatalogueRepository
	counters  *CounterRepository
}

// NewRegistry wires every repository on provider. ordersCollection names the order collection.
func NewRegistry(provider *pfirestore.Provider, ordersCollection string) (*Registry, error) {
	orders, err := NewOrderRepository(provider, ordersCollection)
	if err != nil {
		return nil, err
	}
	catalogue, err := NewCatalogueRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, catalogue: catalogue, counters: counters}, nil
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalogue() repositories.CatalogueRepository { return r.catalogue }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Ping(ctx context.Context) error             { return r.provider.Ping(ctx) }
func (r *Registry) Close(context.Context) error                { return r.provider.Close() }
