package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

var errMissingID = errors.New("id is required")

// CatalogueRepository serves products from memory, typically seeded from a YAML file.
type CatalogueRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ repositories.CatalogueRepository = (*CatalogueRepository)(nil)

// NewCatalogueRepository indexes products by key.
func NewCatalogueRepository(products ...domain.Product) *CatalogueRepository {
	repo := &CatalogueRepository{products: make(map[string]domain.Product, len(products))}
	for _, product := range products {
		repo.Put(product)
	}
	return repo
}

// LoadCatalogueFile reads a YAML list of products. An empty path yields an empty catalogue.
func LoadCatalogueFile(path string) (*CatalogueRepository, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalogueRepository(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: read %s: %w", path, err)
	}
	var products []domain.Product
	if err := yaml.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("catalogue: decode %s: %w", path, err)
	}
	for i, product := range products {
		if strings.TrimSpace(product.Key) == "" {
			return nil, fmt.Errorf("catalogue: product %d has no key", i)
		}
	}
	return NewCatalogueRepository(products...), nil
}

// Put inserts or replaces a product. Price map keys are normalised to upper-case ISO codes.
func (r *CatalogueRepository) Put(product domain.Product) {
	product.Key = strings.TrimSpace(product.Key)
	if len(product.Prices) > 0 {
		prices := make(map[string]decimal.Decimal, len(product.Prices))
		for code, amount := range product.Prices {
			prices[domain.NormalizeCurrency(code)] = amount
		}
		product.Prices = prices
	}
	r.mu.Lock()
	r.products[product.Key] = product
	r.mu.Unlock()
}

func (r *CatalogueRepository) Get(_ context.Context, key string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[strings.TrimSpace(key)]
	if !ok {
		return domain.Product{}, repositories.NotFound("catalogue.get", "product "+key)
	}
	return product, nil
}
