package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/wagnerwagner/merx/internal/repositories"
)

// CounterRepository hands out sequence numbers from memory.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository returns counters starting at zero.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

// Next increments counterID by step (1 when step is not positive).
func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}
