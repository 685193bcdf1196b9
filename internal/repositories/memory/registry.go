package memory

import (
	"context"

	"github.com/wagnerwagner/merx/internal/repositories"
)

// Registry bundles the memory repositories.
type Registry struct {
	orders    *OrderRepository
	catalogue repositories.CatalogueRepository
	counters  *CounterRepository
}

// NewRegistry builds a registry around catalogue. A nil catalogue is replaced by an empty one.
func NewRegistry(catalogue repositories.CatalogueRepository) *Registry {
	if catalogue == nil {
		catalogue = NewCatalogueRepository()
	}
	return &Registry{orders: NewOrderRepository(), catalogue: catalogue, counters: NewCounterRepository()}
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalogue() repositories.CatalogueRepository { return r.catalogue }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Ping(context.Context) error                 { return nil }
func (r *Registry) Close(context.Context) error                { return nil }
