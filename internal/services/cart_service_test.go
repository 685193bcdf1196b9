package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/repositories/memory"
	"github.com/wagnerwagner/merx/internal/rules"
)

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func testCatalogue() *memory.CatalogueRepository {
	return memory.NewCatalogueRepository(
		domain.Product{
			Key:     "shirt",
			Title:   "Shirt",
			Prices:  map[string]decimal.Decimal{"EUR": decimal.RequireFromString("99.99"), "CHF": decimal.RequireFromString("95")},
			TaxRule: "default",
		},
		domain.Product{
			Key:       "poster",
			Title:     "Poster",
			Prices:    map[string]decimal.Decimal{"EUR": decimal.RequireFromString("10")},
			MaxAmount: dec("3"),
		},
		domain.Product{Key: "sculpture", Title: "Sculpture"},
	)
}

type recordingListener struct {
	calls     []string
	rejectAdd error
}

func (r *recordingListener) BeforeCartCreate(context.Context, CartEvent) error {
	r.calls = append(r.calls, "create:before")
	return nil
}

func (r *recordingListener) AfterCartCreate(context.Context, CartEvent) {
	r.calls = append(r.calls, "create:after")
}

func (r *recordingListener) BeforeCartAdd(_ context.Context, event CartEvent) error {
	r.calls = append(r.calls, "add:before:"+event.Key)
	return r.rejectAdd
}

func (r *recordingListener) AfterCartAdd(_ context.Context, event CartEvent) {
	r.calls = append(r.calls, "add:after:"+event.Key)
}

func (r *recordingListener) AfterCartRemove(_ context.Context, event CartEvent) {
	r.calls = append(r.calls, "remove:after:"+event.Key)
}

func (r *recordingListener) AfterCartDelete(context.Context, CartEvent) {
	r.calls = append(r.calls, "delete:after")
}

type stubCartMetrics struct {
	results []string
}

func (m *stubCartMetrics) CartMutation(operation, result string) {
	m.results = append(m.results, operation+":"+result)
}

func newTestCartService(t *testing.T, listeners ...any) (CartService, *memory.CatalogueRepository) {
	t.Helper()
	catalogue := testCatalogue()
	service, err := NewCartService(CartServiceDeps{
		Catalogue: catalogue,
		Listeners: NewListeners(listeners...),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service, catalogue
}

func newRef() CartRef {
	return CartRef{Session: session.Open(session.NewMemoryStore(), "visitor-1", 0)}
}

func TestNewCartServiceRequiresCatalogue(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{}); !errors.Is(err, errCartCatalogueRequired) {
		t.Fatalf("expected catalogue error, got %v", err)
	}
}

func TestCartServiceAddSameKeySumsQuantities(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt", Quantity: dec("1")}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt", Quantity: dec("3")})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if cart.Items.Len() != 1 {
		t.Fatalf("expected one line item, got %d", cart.Items.Len())
	}
	item, _ := cart.Items.Get("shirt")
	if !item.Quantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected quantity 4, got %s", item.Quantity)
	}
	if item.Title != "Shirt" || item.ProductKey != "shirt" {
		t.Fatalf("expected catalogue data on item, got %+v", item)
	}
	total, ok := cart.Items.Total()
	if !ok || !total.Gross().Equal(decimal.RequireFromString("399.96")) {
		t.Fatalf("unexpected total %v %v", total.Gross(), ok)
	}
	if total.Tax() == nil {
		t.Fatalf("expected default tax rule to apply")
	}
}

func TestCartServicePersistsWithoutCataloguePrices(t *testing.T) {
	service, catalogue := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "engraving", Price: dec("5"), Currency: "EUR", Type: "custom"}); err != nil {
		t.Fatalf("add custom: %v", err)
	}

	var stored []domain.ListItemInput
	if ok, err := ref.Session.Get(ctx, session.KeyCartItems, &stored); err != nil || !ok {
		t.Fatalf("expected stored cart, ok=%v err=%v", ok, err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected two stored items, got %d", len(stored))
	}
	if stored[0].Price != nil {
		t.Fatalf("catalogue item must be stored without price")
	}
	if stored[1].Price == nil || !stored[1].Price.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("custom item must keep its price, got %v", stored[1].Price)
	}

	catalogue.Put(domain.Product{Key: "shirt", Title: "Shirt", Prices: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("79")}})
	cart, err := service.Load(ctx, ref)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	item, _ := cart.Items.Get("shirt")
	if item.Price == nil || !item.Price.Gross().Equal(decimal.NewFromInt(79)) {
		t.Fatalf("expected re-derived price 79, got %v", item.Price)
	}
}

func TestCartServiceRemoveMissingIsNoop(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := service.Remove(ctx, ref, "nonexistent")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if cart.Items.Len() != 1 {
		t.Fatalf("expected cart unchanged, got %d items", cart.Items.Len())
	}
}

func TestCartServiceUpdateToZeroRemovesAndClearsSession(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	zero := decimal.Zero
	cart, err := service.UpdateItem(ctx, ref, "shirt", domain.ListItemPatch{Quantity: &zero})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cart.Items.Len() != 0 {
		t.Fatalf("expected empty cart")
	}
	var stored []domain.ListItemInput
	if ok, _ := ref.Session.Get(ctx, session.KeyCartItems, &stored); ok {
		t.Fatalf("empty cart must not be stored")
	}

	if _, err := service.UpdateItem(ctx, ref, "shirt", domain.ListItemPatch{}); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not found for missing item, got %v", err)
	}
}

func TestCartServiceRejectsMixedCurrency(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := service.Add(ctx, ref, domain.ListItemInput{Key: "gift", Price: dec("10"), Currency: "USD", Type: "custom"})
	if !domain.IsKind(err, domain.KindMixedCurrency) {
		t.Fatalf("expected mixed currency, got %v", err)
	}
	cart, _ := service.Load(ctx, ref)
	if cart.Items.Len() != 1 {
		t.Fatalf("rejected item must not be stored")
	}
}

func TestCartServiceUnknownProductAndPriceOnRequest(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "unicorn"}); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cart, err := service.Add(ctx, ref, domain.ListItemInput{Key: "sculpture"})
	if err != nil {
		t.Fatalf("add price-on-request: %v", err)
	}
	if !cart.Items.IsFromPrice() || cart.Items.IsOrderable() {
		t.Fatalf("price-on-request item must make the cart non-orderable")
	}
}

func TestCartServiceEnforcesMaxAmount(t *testing.T) {
	service, _ := newTestCartService(t)
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "poster", Quantity: dec("2")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "poster", Quantity: dec("2")}); !domain.IsKind(err, domain.KindInvalidItem) {
		t.Fatalf("expected max amount error, got %v", err)
	}
	if _, err := service.UpdateItem(ctx, ref, "poster", domain.ListItemPatch{Quantity: dec("3")}); err != nil {
		t.Fatalf("update within cap: %v", err)
	}
}

func TestCartServiceListenersRunInOrder(t *testing.T) {
	listener := &recordingListener{}
	metrics := &stubCartMetrics{}
	catalogue := testCatalogue()
	service, err := NewCartService(CartServiceDeps{Catalogue: catalogue, Listeners: NewListeners(listener), Metrics: metrics})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := service.Remove(ctx, ref, "shirt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := service.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := "create:before,create:after,add:before:shirt,add:after:shirt,create:before,create:after,remove:after:shirt,delete:after"
	if got := strings.Join(listener.calls, ","); got != want {
		t.Fatalf("unexpected hook order\n got %s\nwant %s", got, want)
	}
	if got := strings.Join(metrics.results, ","); got != "add:ok,remove:ok,delete:ok" {
		t.Fatalf("unexpected metrics %s", got)
	}
}

func TestCartServiceBeforeListenerAborts(t *testing.T) {
	veto := errors.New("closed for inventory")
	service, _ := newTestCartService(t, &recordingListener{rejectAdd: veto})
	ref := newRef()

	if _, err := service.Add(context.Background(), ref, domain.ListItemInput{Key: "shirt"}); !errors.Is(err, veto) {
		t.Fatalf("expected veto error, got %v", err)
	}
	cart, _ := service.Load(context.Background(), ref)
	if cart.Items.Len() != 0 {
		t.Fatalf("vetoed add must not change the cart")
	}
}

func TestCartServiceSetCurrencyRepricesCatalogueItems(t *testing.T) {
	set, err := rules.Parse([]byte("pricing:\n  - key: chf\n    currency: CHF\n    when:\n      currencies: [CHF]\n  - key: default\n    currency: EUR\n"))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	service, err := NewCartService(CartServiceDeps{Catalogue: testCatalogue(), Rules: set})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ref := newRef()
	ctx := context.Background()

	if _, err := service.Add(ctx, ref, domain.ListItemInput{Key: "shirt"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := service.SetCurrency(ctx, ref, "chf")
	if err != nil {
		t.Fatalf("set currency: %v", err)
	}
	if cart.Rule == nil || cart.Rule.Key != "chf" {
		t.Fatalf("expected chf pricing rule, got %+v", cart.Rule)
	}
	item, _ := cart.Items.Get("shirt")
	if item.Currency() != "CHF" || !item.Price.Gross().Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected CHF 95, got %s %v", item.Currency(), item.Price.Gross())
	}

	reloaded, _ := service.Load(ctx, ref)
	if reloaded.Context.Currency != "CHF" {
		t.Fatalf("expected session currency to persist, got %q", reloaded.Context.Currency)
	}

	if _, err := service.SetCurrency(ctx, ref, "not-a-currency"); !domain.IsKind(err, domain.KindValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
