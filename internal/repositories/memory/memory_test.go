package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

func TestOrderRepositoryCreateIsIdempotent(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	first, created, err := repo.Create(ctx, domain.Order{ID: "01J", Number: "00001", CorrelationID: "pi_1"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := repo.Create(ctx, domain.Order{ID: "01J", Number: "00002"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("expected existing order to be returned")
	}
	if second.Number != first.Number {
		t.Fatalf("expected number %s, got %s", first.Number, second.Number)
	}

	found, err := repo.FindByCorrelation(ctx, "pi_1")
	if err != nil || found.ID != "01J" {
		t.Fatalf("find by correlation: %+v %v", found, err)
	}
	if _, err := repo.FindByCorrelation(ctx, "pi_missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryMarkPaidOnce(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	if _, _, err := repo.Create(ctx, domain.Order{ID: "o1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	order, changed, err := repo.MarkPaid(ctx, "o1", first, map[string]any{"source": "webhook"})
	if err != nil || !changed {
		t.Fatalf("first mark: changed=%v err=%v", changed, err)
	}
	if !order.PaymentComplete || !order.PaidAt.Equal(first) {
		t.Fatalf("unexpected order %+v", order)
	}

	order, changed, err = repo.MarkPaid(ctx, "o1", first.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if changed || !order.PaidAt.Equal(first) {
		t.Fatalf("second mark must be a no-op, got changed=%v paidAt=%v", changed, order.PaidAt)
	}

	if _, _, err := repo.MarkPaid(ctx, "missing", first, nil); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCounterRepositoryConcurrentNext(t *testing.T) {
	repo := NewCounterRepository()
	var wg sync.WaitGroup
	seen := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := repo.Next(context.Background(), "orders", 1)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			seen <- value
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{})
	for value := range seen {
		unique[value] = struct{}{}
	}
	if len(unique) != 50 {
		t.Fatalf("expected 50 distinct values, got %d", len(unique))
	}
	if _, err := repo.Next(context.Background(), " ", 1); err == nil {
		t.Fatal("expected error for blank counter id")
	}
}

func TestLoadCatalogueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.yaml")
	raw := "- key: shirt\n  title: Shirt\n  prices:\n    eur: \"99.99\"\n  taxrule: default\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	repo, err := LoadCatalogueFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	product, err := repo.Get(context.Background(), "shirt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	price, ok := product.PriceIn("EUR")
	if !ok || !price.Equal(decimal.RequireFromString("99.99")) {
		t.Fatalf("unexpected price %s ok=%v", price, ok)
	}
	if _, err := repo.Get(context.Background(), "hat"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
