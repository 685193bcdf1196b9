package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ListItems is an insertion-ordered set of line items sharing a single currency.
type ListItems struct {
	keys  []string
	items map[string]ListItem
}

// NewListItems builds an aggregate from items, merging duplicate keys.
func NewListItems(items ...ListItem) (*ListItems, error) {
	list := &ListItems{items: make(map[string]ListItem, len(items))}
	for _, item := range items {
		if err := list.Add(item); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (l *ListItems) init() {
	if l.items == nil {
		l.items = make(map[string]ListItem)
	}
}

// Len returns the number of line items.
func (l *ListItems) Len() int {
	if l == nil {
		return 0
	}
	return len(l.keys)
}

// Get returns the item stored under key.
func (l *ListItems) Get(key string) (ListItem, bool) {
	if l == nil {
		return ListItem{}, false
	}
	item, ok := l.items[key]
	return item, ok
}

// Items returns the line items in insertion order.
func (l *ListItems) Items() []ListItem {
	if l == nil {
		return nil
	}
	out := make([]ListItem, 0, len(l.keys))
	for _, key := range l.keys {
		out = append(out, l.items[key])
	}
	return out
}

// Add appends item, or sums its quantity into an existing item with the same key.
// Items whose currency conflicts with the aggregate are rejected with KindMixedCurrency.
func (l *ListItems) Add(item ListItem) error {
	l.init()
	if err := l.checkCurrency(item); err != nil {
		return err
	}
	if existing, ok := l.items[item.Key]; ok {
		existing.Quantity = existing.Quantity.Add(item.Quantity)
		if item.Price != nil {
			existing.Price = item.Price
		}
		if item.Data != nil {
			existing.Data = mergeData(existing.Data, item.Data)
		}
		return l.store(existing)
	}
	if item.Quantity.IsZero() {
		return nil
	}
	l.keys = append(l.keys, item.Key)
	l.items[item.Key] = item
	return nil
}

// Replace overwrites an item in place, appending it when absent.
func (l *ListItems) Replace(item ListItem) error {
	l.init()
	if err := l.checkCurrency(item); err != nil {
		return err
	}
	if _, ok := l.items[item.Key]; ok {
		return l.store(item)
	}
	if item.Quantity.IsZero() {
		return nil
	}
	l.keys = append(l.keys, item.Key)
	l.items[item.Key] = item
	return nil
}

func (l *ListItems) store(item ListItem) error {
	if item.Quantity.IsZero() {
		l.Remove(item.Key)
		return nil
	}
	l.items[item.Key] = item
	return nil
}

func (l *ListItems) checkCurrency(item ListItem) error {
	incoming := item.Currency()
	if incoming == "" {
		return nil
	}
	for _, key := range l.keys {
		if key == item.Key {
			continue
		}
		current := l.items[key].Currency()
		if current != "" && current != incoming {
			return NewError(KindMixedCurrency,
				fmt.Sprintf("could not add item %q with currency %s to items in %s", item.Key, incoming, current), nil).
				WithDetails(map[string]any{"key": item.Key, "currency": incoming})
		}
	}
	return nil
}

// UpdateItem applies patch to the item under key. A resulting zero quantity removes the item.
func (l *ListItems) UpdateItem(key string, patch ListItemPatch) error {
	item, ok := l.Get(key)
	if !ok {
		return NewError(KindNotFound, fmt.Sprintf("line item %q not found", key), nil)
	}
	updated, err := item.apply(patch)
	if err != nil {
		return err
	}
	return l.store(updated)
}

// Remove deletes the item under key. It reports whether an item was removed.
func (l *ListItems) Remove(key string) bool {
	if l == nil {
		return false
	}
	if _, ok := l.items[key]; !ok {
		return false
	}
	delete(l.items, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
	return true
}

// FilterByType returns a new aggregate holding only items of the given type.
func (l *ListItems) FilterByType(t ListItemType) *ListItems {
	out := &ListItems{items: make(map[string]ListItem)}
	for _, item := range l.Items() {
		if item.Type == t {
			out.keys = append(out.keys, item.Key)
			out.items[item.Key] = item
		}
	}
	return out
}

// Quantity sums the quantities of items of type t, ListItemProduct when t is empty.
func (l *ListItems) Quantity(t ListItemType) decimal.Decimal {
	if t == "" {
		t = ListItemProduct
	}
	total := decimal.Zero
	for _, item := range l.Items() {
		if item.Type == t {
			total = total.Add(item.Quantity)
		}
	}
	return total
}

// Currency returns the shared currency. ok is false when the items disagree.
func (l *ListItems) Currency() (string, bool) {
	currency := ""
	for _, item := range l.Items() {
		c := item.Currency()
		if c == "" {
			continue
		}
		if currency != "" && currency != c {
			return "", false
		}
		currency = c
	}
	return currency, true
}

// Total sums gross, net and tax over all priced items. ok is false as soon as two
// items disagree on currency; callers treat that as "cannot checkout yet".
func (l *ListItems) Total() (Price, bool) {
	gross, net, tax := decimal.Zero, decimal.Zero, decimal.Zero
	currency := ""
	for _, item := range l.Items() {
		total, ok := item.Total()
		if !ok {
			continue
		}
		if c := total.Currency(); c != "" {
			if currency != "" && currency != c {
				return Price{}, false
			}
			currency = c
		}
		gross = gross.Add(total.Gross())
		if n, ok := total.Net(); ok {
			net = net.Add(n)
		} else {
			net = net.Add(total.Gross())
		}
		if t := total.Tax(); t != nil {
			tax = tax.Add(t.Amount())
		}
	}
	return Price{
		gross:    Round(gross),
		net:      Round(net),
		hasNet:   true,
		tax:      &Tax{amount: Round(tax)},
		currency: currency,
	}, true
}

// TaxRateTotal is one bucket of the tax breakdown.
type TaxRateTotal struct {
	Rate     decimal.Decimal `json:"rate"`
	Tax      decimal.Decimal `json:"tax"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
}

// TaxRates groups item totals by tax rate, sorted ascending by rate.
func (l *ListItems) TaxRates() []TaxRateTotal {
	buckets := make(map[string]*TaxRateTotal)
	for _, item := range l.Items() {
		total, ok := item.Total()
		if !ok {
			continue
		}
		rate, ok := total.TaxRate()
		if !ok {
			continue
		}
		id := rate.String()
		bucket, exists := buckets[id]
		if !exists {
			bucket = &TaxRateTotal{Rate: rate, Currency: total.Currency()}
			buckets[id] = bucket
		}
		bucket.Tax = bucket.Tax.Add(total.Tax().Amount())
		bucket.Price = bucket.Price.Add(total.Gross())
	}

	out := make([]TaxRateTotal, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rate.LessThan(out[j].Rate) })
	return out
}

// IsFromPrice reports whether any item lacks a total.
func (l *ListItems) IsFromPrice() bool {
	for _, item := range l.Items() {
		if _, ok := item.Total(); !ok {
			return true
		}
	}
	return false
}

// IsOrderable reports whether every item is priced, the currency is consistent and the total is positive.
func (l *ListItems) IsOrderable() bool {
	if l.Len() == 0 || l.IsFromPrice() {
		return false
	}
	total, ok := l.Total()
	return ok && total.Gross().IsPositive()
}

// Inputs returns the record form of every item, see ListItem.Input.
func (l *ListItems) Inputs(stripCataloguePrice bool) []ListItemInput {
	items := l.Items()
	out := make([]ListItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, item.Input(stripCataloguePrice))
	}
	return out
}

// YAML encodes the priced records of all items, the format orders snapshot their lines in.
func (l *ListItems) YAML() ([]byte, error) {
	return yaml.Marshal(l.Inputs(false))
}

// ListItemsFromInputs rebuilds an aggregate from records.
func ListItemsFromInputs(inputs []ListItemInput) (*ListItems, error) {
	list := &ListItems{items: make(map[string]ListItem, len(inputs))}
	for _, in := range inputs {
		item, err := NewListItem(in)
		if err != nil {
			return nil, err
		}
		if err := list.Add(item); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ListItemsFromYAML parses the YAML produced by ListItems.YAML.
func ListItemsFromYAML(raw []byte) (*ListItems, error) {
	var inputs []ListItemInput
	if err := yaml.Unmarshal(raw, &inputs); err != nil {
		return nil, NewError(KindInvalidItem, "invalid line item yaml", err)
	}
	return ListItemsFromInputs(inputs)
}
