package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	pfirestore "github.com/wagnerwagner/merx/internal/platform/firestore"
	"github.com/wagnerwagner/merx/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Title     string            `firestore:"title"`
	Prices    map[string]string `firestore:"prices"`
	TaxRule   string            `firestore:"taxRule"`
	Type      string            `firestore:"type"`
	MaxAmount string            `firestore:"maxAmount,omitempty"`
	Data      map[string]any    `firestore:"data,omitempty"`
}

// CatalogueRepository reads products from the "products" collection; the document id is the product key.
type CatalogueRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.CatalogueRepository = (*CatalogueRepository)(nil)

// NewCatalogueRepository constructs the repository.
func NewCatalogueRepository(provider *pfirestore.Provider) (*CatalogueRepository, error) {
	if provider == nil {
		return nil, errors.New("catalogue repository requires firestore provider")
	}
	return &CatalogueRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

func (r *CatalogueRepository) Get(ctx context.Context, key string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(key))
	if err != nil {
		return domain.Product{}, err
	}
	product := domain.Product{
		Key:     strings.TrimSpace(key),
		Title:   doc.Title,
		TaxRule: doc.TaxRule,
		Type:    domain.ListItemType(doc.Type),
		Data:    doc.Data,
	}
	if len(doc.Prices) > 0 {
		product.Prices = make(map[string]decimal.Decimal, len(doc.Prices))
		for code, raw := range doc.Prices {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return domain.Product{}, domain.NewError(domain.KindInvalidItem, "product "+key+" has an invalid price", err)
			}
			product.Prices[domain.NormalizeCurrency(code)] = amount
		}
	}
	if raw := strings.TrimSpace(doc.MaxAmount); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			product.MaxAmount = &amount
		}
	}
	return product, nil
}
