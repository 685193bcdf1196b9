package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/auth"
)

type countingOrders struct {
	creates int
	marks   int
}

func (c *countingOrders) Create(_ context.Context, order domain.Order) (domain.Order, bool, error) {
	c.creates++
	return order, true, nil
}

func (c *countingOrders) Get(context.Context, string) (domain.Order, error) {
	return domain.Order{ID: "o1"}, nil
}

func (c *countingOrders) FindByCorrelation(context.Context, string) (domain.Order, error) {
	return domain.Order{ID: "o1"}, nil
}

func (c *countingOrders) MarkPaid(context.Context, string, time.Time, map[string]any) (domain.Order, bool, error) {
	c.marks++
	return domain.Order{ID: "o1"}, true, nil
}

func TestGuardOrdersRejectsUnprivilegedWrites(t *testing.T) {
	inner := &countingOrders{}
	repo := GuardOrders(inner)
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: "buyer", Roles: []string{auth.RoleCustomer}})

	if _, _, err := repo.Create(ctx, domain.Order{ID: "o1"}); !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, _, err := repo.MarkPaid(ctx, "o1", time.Now(), nil); !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if inner.creates != 0 || inner.marks != 0 {
		t.Fatalf("inner repository must not be reached, got %+v", inner)
	}
	if _, err := repo.Get(ctx, "o1"); err != nil {
		t.Fatalf("reads must pass through: %v", err)
	}
}

func TestGuardOrdersAllowsImpersonatedWrites(t *testing.T) {
	inner := &countingOrders{}
	repo := GuardOrders(inner)

	err := auth.Impersonate(context.Background(), func(ctx context.Context) error {
		if _, _, err := repo.Create(ctx, domain.Order{ID: "o1"}); err != nil {
			return err
		}
		_, _, err := repo.MarkPaid(ctx, "o1", time.Now(), nil)
		return err
	})
	if err != nil {
		t.Fatalf("impersonated writes: %v", err)
	}
	if inner.creates != 1 || inner.marks != 1 {
		t.Fatalf("expected one create and one mark, got %+v", inner)
	}
	if GuardOrders(repo) != repo {
		t.Fatal("guarding twice must not stack decorators")
	}
}
