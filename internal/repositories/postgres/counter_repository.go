package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/wagnerwagner/merx/internal/repositories"
)

// CounterRepository implements sequence numbers with an upsert.
type CounterRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs the repository on store.
func NewCounterRepository(store *Store) *CounterRepository {
	return &CounterRepository{db: store.db, now: time.Now}
}

// Next increments counterID in one statement, so concurrent callers never see the same value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		step = 1
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO counters (id, current_value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET current_value = counters.current_value + EXCLUDED.current_value, updated_at = EXCLUDED.updated_at
		RETURNING current_value`,
		id, step, r.now().UTC(),
	).Scan(&value)
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}
