package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/repositories"
	"github.com/wagnerwagner/merx/internal/rules"
)

var (
	errCartCatalogueRequired = errors.New("cart service: catalogue repository is required")
	errCartSessionRequired   = errors.New("cart service: session is required")
)

type cartMetrics interface {
	CartMutation(operation, result string)
}

// CartServiceDeps wires the catalogue, rule set and listeners used by cart operations.
type CartServiceDeps struct {
	Catalogue repositories.CatalogueRepository
	Rules     rules.Set
	Listeners *Listeners
	Metrics   cartMetrics
	Logger    Logger
}

type cartService struct {
	catalogue repositories.CatalogueRepository
	rules     rules.Set
	listeners *Listeners
	metrics   cartMetrics
	logger    Logger
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Catalogue == nil {
		return nil, errCartCatalogueRequired
	}
	ruleSet := deps.Rules
	if len(ruleSet.Pricing) == 0 && len(ruleSet.Tax) == 0 {
		ruleSet = rules.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartService{
		catalogue: deps.Catalogue,
		rules:     ruleSet,
		listeners: deps.Listeners,
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

// Load rehydrates the cart from the session. Catalogue-backed items are re-priced against
// the current catalogue; items whose product vanished are dropped.
func (s *cartService) Load(ctx context.Context, ref CartRef) (Cart, error) {
	return s.load(ctx, ref)
}

func (s *cartService) Add(ctx context.Context, ref CartRef, in domain.ListItemInput) (Cart, error) {
	cart, err := s.load(ctx, ref)
	if err != nil {
		return Cart{}, err
	}
	event := CartEvent{SessionToken: ref.Session.Token(), Items: cart.Items, Key: strings.TrimSpace(in.Key), Input: &in}
	if err := runBefore(s.listeners, func(l BeforeCartAdd) error { return l.BeforeCartAdd(ctx, event) }); err != nil {
		s.record("add", err)
		return Cart{}, err
	}

	resolved, err := s.resolve(ctx, in, cart)
	if err != nil {
		s.record("add", err)
		return Cart{}, err
	}
	item, err := domain.NewListItem(resolved)
	if err != nil {
		s.record("add", err)
		return Cart{}, err
	}
	if err := s.checkMaxAmount(ctx, cart.Items, item); err != nil {
		s.record("add", err)
		return Cart{}, err
	}
	if err := cart.Items.Add(item); err != nil {
		s.record("add", err)
		return Cart{}, err
	}
	if err := s.save(ctx, ref.Session, cart.Items); err != nil {
		s.record("add", err)
		return Cart{}, err
	}

	s.record("add", nil)
	event.Key = item.Key
	runAfter(s.listeners, func(l AfterCartAdd) { l.AfterCartAdd(ctx, event) })
	return cart, nil
}

// Remove deletes the item under key. Removing an absent key leaves the cart unchanged.
func (s *cartService) Remove(ctx context.Context, ref CartRef, key string) (Cart, error) {
	cart, err := s.load(ctx, ref)
	if err != nil {
		return Cart{}, err
	}
	key = strings.TrimSpace(key)
	event := CartEvent{SessionToken: ref.Session.Token(), Items: cart.Items, Key: key}
	if err := runBefore(s.listeners, func(l BeforeCartRemove) error { return l.BeforeCartRemove(ctx, event) }); err != nil {
		s.record("remove", err)
		return Cart{}, err
	}
	cart.Items.Remove(key)
	if err := s.save(ctx, ref.Session, cart.Items); err != nil {
		s.record("remove", err)
		return Cart{}, err
	}
	s.record("remove", nil)
	runAfter(s.listeners, func(l AfterCartRemove) { l.AfterCartRemove(ctx, event) })
	return cart, nil
}

// UpdateItem patches the item under key; a zero quantity removes it.
func (s *cartService) UpdateItem(ctx context.Context, ref CartRef, key string, patch domain.ListItemPatch) (Cart, error) {
	cart, err := s.load(ctx, ref)
	if err != nil {
		return Cart{}, err
	}
	key = strings.TrimSpace(key)
	event := CartEvent{SessionToken: ref.Session.Token(), Items: cart.Items, Key: key, Patch: &patch}
	if err := runBefore(s.listeners, func(l BeforeCartUpdate) error { return l.BeforeCartUpdate(ctx, event) }); err != nil {
		s.record("update", err)
		return Cart{}, err
	}
	if err := cart.Items.UpdateItem(key, patch); err != nil {
		s.record("update", err)
		return Cart{}, err
	}
	if item, ok := cart.Items.Get(key); ok {
		if err := s.checkMaxAmount(ctx, nil, item); err != nil {
			s.record("update", err)
			return Cart{}, err
		}
	}
	if err := s.save(ctx, ref.Session, cart.Items); err != nil {
		s.record("update", err)
		return Cart{}, err
	}
	s.record("update", nil)
	runAfter(s.listeners, func(l AfterCartUpdate) { l.AfterCartUpdate(ctx, event) })
	return cart, nil
}

// Delete clears the session-backed cart entirely.
func (s *cartService) Delete(ctx context.Context, ref CartRef) error {
	if ref.Session == nil {
		return errCartSessionRequired
	}
	event := CartEvent{SessionToken: ref.Session.Token()}
	if err := runBefore(s.listeners, func(l BeforeCartDelete) error { return l.BeforeCartDelete(ctx, event) }); err != nil {
		s.record("delete", err)
		return err
	}
	if err := ref.Session.Remove(ctx, session.KeyCartItems); err != nil {
		s.record("delete", err)
		return domain.NewError(domain.KindInternal, "clear cart", err)
	}
	s.record("delete", nil)
	runAfter(s.listeners, func(l AfterCartDelete) { l.AfterCartDelete(ctx, event) })
	return nil
}

// SetCurrency stores the visitor's preferred currency and re-prices the cart. Custom items
// priced in another currency block the switch.
func (s *cartService) SetCurrency(ctx context.Context, ref CartRef, code string) (Cart, error) {
	if ref.Session == nil {
		return Cart{}, errCartSessionRequired
	}
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return Cart{}, domain.NewError(domain.KindValidationFailed, fmt.Sprintf("unknown currency %q", code), err).
			WithDetails(map[string]any{"fields": []string{"currency"}})
	}
	normalised := unit.String()

	current, err := s.load(ctx, ref)
	if err != nil {
		return Cart{}, err
	}
	for _, item := range current.Items.Items() {
		if item.ProductKey == "" && item.Currency() != "" && item.Currency() != normalised {
			return Cart{}, domain.NewError(domain.KindMixedCurrency,
				fmt.Sprintf("line item %q is priced in %s", item.Key, item.Currency()), nil)
		}
	}

	if err := ref.Session.Set(ctx, session.KeyCurrency, normalised); err != nil {
		return Cart{}, domain.NewError(domain.KindInternal, "store currency", err)
	}
	ref.Rules.Currency = normalised
	cart, err := s.load(ctx, ref)
	if err != nil {
		return Cart{}, err
	}
	if err := s.save(ctx, ref.Session, cart.Items); err != nil {
		return Cart{}, err
	}
	s.record("currency", nil)
	return cart, nil
}

// ruleContext overlays the session currency on the request context.
func (s *cartService) ruleContext(ctx context.Context, ref CartRef) RuleContext {
	rc := ref.Rules
	if strings.TrimSpace(rc.Currency) == "" {
		var stored string
		if ok, err := ref.Session.Get(ctx, session.KeyCurrency, &stored); err == nil && ok {
			rc.Currency = stored
		}
	}
	return rc.Normalized()
}

func (s *cartService) load(ctx context.Context, ref CartRef) (Cart, error) {
	if ref.Session == nil {
		return Cart{}, errCartSessionRequired
	}
	rc := s.ruleContext(ctx, ref)
	cart := Cart{Context: rc, Rule: s.rules.Pricing.FindApplicable(rc)}

	var inputs []domain.ListItemInput
	if _, err := ref.Session.Get(ctx, session.KeyCartItems, &inputs); err != nil {
		s.logger(ctx, "cart.load.session_failed", map[string]any{"error": err})
		inputs = nil
	}

	event := CartEvent{SessionToken: ref.Session.Token()}
	if err := runBefore(s.listeners, func(l BeforeCartCreate) error { return l.BeforeCartCreate(ctx, event) }); err != nil {
		return Cart{}, err
	}

	items, err := domain.NewListItems()
	if err != nil {
		return Cart{}, err
	}
	cart.Items = items
	for _, in := range inputs {
		resolved, err := s.resolve(ctx, in, cart)
		if err == nil {
			var item domain.ListItem
			if item, err = domain.NewListItem(resolved); err == nil {
				err = items.Add(item)
			}
		}
		if err != nil {
			s.logger(ctx, "cart.load.item_dropped", map[string]any{"key": in.Key, "error": err.Error()})
		}
	}

	event.Items = items
	runAfter(s.listeners, func(l AfterCartCreate) { l.AfterCartCreate(ctx, event) })
	return cart, nil
}

// resolve fills catalogue data into a line item. A bare key without a price refers to the
// catalogue product of the same key; explicit prices mark custom items that keep theirs.
func (s *cartService) resolve(ctx context.Context, in domain.ListItemInput, cart Cart) (domain.ListItemInput, error) {
	in.Key = strings.TrimSpace(in.Key)
	in.ProductKey = strings.TrimSpace(in.ProductKey)
	if in.ProductKey == "" && in.Price == nil && in.PriceNet == nil {
		in.ProductKey = in.Key
	}
	if in.ProductKey == "" {
		return in, nil
	}
	if in.Key == "" {
		in.Key = in.ProductKey
	}

	product, err := s.catalogue.Get(ctx, in.ProductKey)
	if err != nil {
		if repositories.IsNotFound(err) {
			return in, domain.NewError(domain.KindNotFound, fmt.Sprintf("product %q not found", in.ProductKey), err)
		}
		return in, domain.NewError(domain.KindInternal, "load product", err)
	}
	if in.Title == "" {
		in.Title = product.Title
	}
	if in.Type == "" && product.Type != "" {
		in.Type = string(product.Type)
	}
	in.Price, in.PriceNet, in.TaxRate, in.Currency = nil, nil, nil, ""

	if cart.Rule == nil {
		return in, nil
	}
	amount, ok := product.PriceIn(cart.Rule.Currency)
	if !ok {
		return in, nil
	}
	if cart.Rule.TaxIncluded {
		in.Price = &amount
	} else {
		in.PriceNet = &amount
	}
	in.TaxRate = s.rules.Tax.RateFor(product.TaxRule, cart.Context)
	in.Currency = cart.Rule.Currency
	return in, nil
}

// checkMaxAmount enforces the product's quantity cap on the merged line item.
func (s *cartService) checkMaxAmount(ctx context.Context, items *domain.ListItems, item domain.ListItem) error {
	if item.ProductKey == "" {
		return nil
	}
	product, err := s.catalogue.Get(ctx, item.ProductKey)
	if err != nil || product.MaxAmount == nil {
		return nil
	}
	quantity := item.Quantity
	if items != nil {
		if existing, ok := items.Get(item.Key); ok {
			quantity = quantity.Add(existing.Quantity)
		}
	}
	if quantity.GreaterThan(*product.MaxAmount) {
		return domain.NewError(domain.KindInvalidItem,
			fmt.Sprintf("at most %s of %q can be ordered", product.MaxAmount.String(), item.ProductKey), nil).
			WithDetails(map[string]any{"maxAmount": product.MaxAmount.String(), "key": item.Key})
	}
	return nil
}

// save writes the stripped records; an empty cart removes the session key.
func (s *cartService) save(ctx context.Context, sess *session.Session, items *domain.ListItems) error {
	var err error
	if items.Len() == 0 {
		err = sess.Remove(ctx, session.KeyCartItems)
	} else {
		err = sess.Set(ctx, session.KeyCartItems, items.Inputs(true))
	}
	if err != nil {
		return domain.NewError(domain.KindInternal, "persist cart", err)
	}
	return nil
}

func (s *cartService) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(domain.KindOf(err)))
	}
	s.metrics.CartMutation(operation, result)
}
