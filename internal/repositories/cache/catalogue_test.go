package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	getErr  error
	setCall int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCall++
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

type slowCatalogue struct {
	hits    atomic.Int32
	release chan struct{}
}

func (s *slowCatalogue) Get(ctx context.Context, key string) (domain.Product, error) {
	s.hits.Add(1)
	if s.release != nil {
		<-s.release
	}
	if key == "missing" {
		return domain.Product{}, repositories.NotFound("catalogue.get", key)
	}
	return domain.Product{Key: key, Title: "Shirt", Prices: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("99.99")}}, nil
}

func TestCatalogueCacheCollapsesConcurrentMisses(t *testing.T) {
	backend := &slowCatalogue{release: make(chan struct{})}
	kv := newFakeRedis()
	repo, err := NewCatalogueRepository(backend, kv)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			product, err := repo.Get(context.Background(), "shirt")
			if err != nil || product.Title != "Shirt" {
				t.Errorf("get: %+v %v", product, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	if hits := backend.hits.Load(); hits != 1 {
		t.Fatalf("expected one backend read, got %d", hits)
	}

	product, err := repo.Get(context.Background(), "shirt")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	price, ok := product.PriceIn("eur")
	if !ok || !price.Equal(decimal.RequireFromString("99.99")) {
		t.Fatalf("unexpected cached price %s", price)
	}
	if backend.hits.Load() != 1 {
		t.Fatalf("expected cached read, got %d backend hits", backend.hits.Load())
	}
}

func TestCatalogueCacheFallsBackOnRedisErrors(t *testing.T) {
	backend := &slowCatalogue{}
	kv := newFakeRedis()
	kv.getErr = errors.New("connection refused")
	repo, err := NewCatalogueRepository(backend, kv)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, err := repo.Get(context.Background(), "shirt"); err != nil {
		t.Fatalf("expected backend read, got %v", err)
	}
	if _, err := repo.Get(context.Background(), "missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
