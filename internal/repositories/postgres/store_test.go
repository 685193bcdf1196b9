package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/repositories"
)

func TestWrapErrorClassifiesPgErrors(t *testing.T) {
	if err := wrapError("op", sql.ErrNoRows); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := wrapError("op", &pgconn.PgError{Code: "23505"}); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := wrapError("op", &pgconn.PgError{Code: "53300"}); !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation passthrough, got %v", err)
	}
	if err := wrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

type fakeRow struct {
	values []any
}

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = f.values[i].(string)
		case *int64:
			*ptr = f.values[i].(int64)
		case *bool:
			*ptr = f.values[i].(bool)
		case *[]byte:
			if f.values[i] != nil {
				*ptr = f.values[i].([]byte)
			}
		case *sql.NullTime:
			if f.values[i] != nil {
				*ptr = sql.NullTime{Time: f.values[i].(time.Time), Valid: true}
			}
		case *time.Time:
			*ptr = f.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanOrderDecodesJSONColumns(t *testing.T) {
	price := decimal.RequireFromString("99.99")
	order := domain.Order{
		Items:  []domain.ListItemInput{{Key: "shirt", Price: &price, Currency: "EUR"}},
		Totals: domain.OrderTotals{Price: price, Currency: "EUR"},
		Fields: map[string]string{"email": "ada@example.com"},
	}
	items, totals, fields, details, err := encodeJSONColumns(order)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if details != nil {
		t.Fatalf("expected nil details, got %s", details)
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	row := fakeRow{values: []any{"o1", "00001", int64(1), "uuid", items, totals, fields, "invoice", "o1", true, now, nil, now, now, now}}

	decoded, err := scanOrder(row)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if decoded.PaidAt == nil || !decoded.PaidAt.Equal(now) {
		t.Fatalf("unexpected paidAt %v", decoded.PaidAt)
	}
	if !decoded.Totals.Price.Equal(price) || decoded.Fields["email"] != "ada@example.com" {
		t.Fatalf("unexpected order %+v", decoded)
	}
	if len(decoded.Items) != 1 || !decoded.Items[0].Price.Equal(price) {
		t.Fatalf("unexpected items %+v", decoded.Items)
	}
}
