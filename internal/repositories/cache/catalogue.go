// Package cache fronts repositories with a Redis cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

const (
	defaultTTL    = 10 * time.Minute
	defaultPrefix = "merx:catalogue:"
)

// redisKV is the subset of the Redis client the cache uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Logger receives cache failures; they never fail a read.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CatalogueRepository is a cache-aside decorator. Concurrent misses for one key share a
// single backend read.
type CatalogueRepository struct {
	next   repositories.CatalogueRepository
	redis  redisKV
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	logger Logger
}

var _ repositories.CatalogueRepository = (*CatalogueRepository)(nil)

// Option customises the cache.
type Option func(*CatalogueRepository)

// WithTTL overrides how long entries live.
func WithTTL(ttl time.Duration) Option {
	return func(c *CatalogueRepository) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger installs a failure logger.
func WithLogger(logger Logger) Option {
	return func(c *CatalogueRepository) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCatalogueRepository wraps next with client.
func NewCatalogueRepository(next repositories.CatalogueRepository, client redisKV, opts ...Option) (*CatalogueRepository, error) {
	if next == nil {
		return nil, errors.New("catalogue cache: backing repository is required")
	}
	if client == nil {
		return nil, errors.New("catalogue cache: redis client is required")
	}
	c := &CatalogueRepository{
		next:   next,
		redis:  client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *CatalogueRepository) Get(ctx context.Context, key string) (domain.Product, error) {
	key = strings.TrimSpace(key)
	if product, ok := c.lookup(ctx, key); ok {
		return product, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		if product, ok := c.lookup(ctx, key); ok {
			return product, nil
		}
		product, err := c.next.Get(ctx, key)
		if err != nil {
			return domain.Product{}, err
		}
		c.store(ctx, key, product)
		return product, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return value.(domain.Product), nil
}

func (c *CatalogueRepository) lookup(ctx context.Context, key string) (domain.Product, bool) {
	raw, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Product{}, false
	}
	if err != nil {
		c.logger(ctx, "catalogue.cache.get.failed", map[string]any{"key": key, "error": err})
		return domain.Product{}, false
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		c.logger(ctx, "catalogue.cache.decode.failed", map[string]any{"key": key, "error": err})
		return domain.Product{}, false
	}
	return product, true
}

func (c *CatalogueRepository) store(ctx context.Context, key string, product domain.Product) {
	raw, err := json.Marshal(product)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger(ctx, "catalogue.cache.set.failed", map[string]any{"key": key, "error": err})
	}
}
