package postgres

import (
	"context"

	"github.com/wagnerwagner/merx/internal/repositories"
)

// Registry serves orders and counters from PostgreSQL. The catalogue is supplied by the caller.
type Registry struct {
	store     *Store
	orders    *OrderRepository
	counters  *CounterRepository
	catalogue repositories.CatalogueRepository
}

// NewRegistry wires the repositories on store.
func NewRegistry(store *Store, catalogue repositories.CatalogueRepository) *Registry {
	return &Registry{
		store:     store,
		orders:    NewOrderRepository(store),
		counters:  NewCounterRepository(store),
		catalogue: catalogue,
	}
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalogue() repositories.CatalogueRepository { return r.catalogue }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Ping(ctx context.Context) error             { return r.store.Ping(ctx) }
func (r *Registry) Close(context.Context) error                { return r.store.Close() }
