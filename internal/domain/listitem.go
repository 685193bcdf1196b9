package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ListItemType tags what a line item represents.
type ListItemType string

const (
	ListItemCredit    ListItemType = "credit"
	ListItemCustom    ListItemType = "custom"
	ListItemDiscount  ListItemType = "discount"
	ListItemProduct   ListItemType = "product"
	ListItemPromotion ListItemType = "promotion"
	ListItemShipping  ListItemType = "shipping"
)

var allowedListItemTypes = map[ListItemType]struct{}{
	ListItemCredit:    {},
	ListItemCustom:    {},
	ListItemDiscount:  {},
	ListItemProduct:   {},
	ListItemPromotion: {},
	ListItemShipping:  {},
}

// ParseListItemType validates a type tag. Empty input yields ListItemProduct.
func ParseListItemType(raw string) (ListItemType, error) {
	value := ListItemType(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return ListItemProduct, nil
	}
	if _, ok := allowedListItemTypes[value]; !ok {
		return "", NewError(KindInvalidItem, fmt.Sprintf("type %q is not allowed", raw), nil)
	}
	return value, nil
}

// ListItem is one entry of a cart or order.
type ListItem struct {
	Key   string
	Title string
	// ProductKey references the catalogue product backing the item; empty for custom items.
	ProductKey string
	Price      *Price
	Quantity   decimal.Decimal
	Quantifier *decimal.Decimal
	Type       ListItemType
	Data       map[string]any
}

// ListItemInput is the structured form a ListItem is built from. It doubles as the
// session and order record, so it carries json and yaml tags.
type ListItemInput struct {
	Key        string           `json:"key" yaml:"key"`
	Title      string           `json:"title,omitempty" yaml:"title,omitempty"`
	ProductKey string           `json:"product,omitempty" yaml:"product,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty" yaml:"price,omitempty"`
	PriceNet   *decimal.Decimal `json:"priceNet,omitempty" yaml:"pricenet,omitempty"`
	TaxRate    *decimal.Decimal `json:"taxRate,omitempty" yaml:"taxrate,omitempty"`
	Currency   string           `json:"currency,omitempty" yaml:"currency,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Quantifier *decimal.Decimal `json:"quantifier,omitempty" yaml:"quantifier,omitempty"`
	Type       string           `json:"type,omitempty" yaml:"type,omitempty"`
	Data       map[string]any   `json:"data,omitempty" yaml:"data,omitempty"`
}

// DecodeListItemInput parses JSON into a ListItemInput, rejecting unknown fields.
func DecodeListItemInput(raw []byte) (ListItemInput, error) {
	var in ListItemInput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return ListItemInput{}, NewError(KindInvalidItem, "invalid line item", err)
	}
	return in, nil
}

// NewListItem validates the input and maps it to a ListItem.
func NewListItem(in ListItemInput) (ListItem, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return ListItem{}, NewError(KindInvalidItem, "line item key is required", nil)
	}
	itemType, err := ParseListItemType(in.Type)
	if err != nil {
		return ListItem{}, err
	}

	quantity := decimal.NewFromInt(1)
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	if quantity.IsNegative() {
		return ListItem{}, NewError(KindInvalidItem, "quantity must not be negative", nil)
	}

	item := ListItem{
		Key:        key,
		Title:      strings.TrimSpace(in.Title),
		ProductKey: strings.TrimSpace(in.ProductKey),
		Quantity:   quantity,
		Quantifier: in.Quantifier,
		Type:       itemType,
		Data:       in.Data,
	}

	if in.Price != nil || in.PriceNet != nil {
		price, err := NewPrice(PriceInput{Price: in.Price, PriceNet: in.PriceNet, TaxRate: in.TaxRate, Currency: in.Currency})
		if err != nil {
			return ListItem{}, err
		}
		item.Price = &price
	}
	return item, nil
}

// Total is the unit price times quantity (and quantifier, when set) with tax recomputed
// pro rata. ok is false for price-on-request items.
func (i ListItem) Total() (Price, bool) {
	if i.Price == nil {
		return Price{}, false
	}
	factor := i.Quantity
	if i.Quantifier != nil {
		factor = factor.Mul(*i.Quantifier)
	}
	return i.Price.Multiply(factor), true
}

// Currency returns the item's currency, or "" when unpriced or untagged.
func (i ListItem) Currency() string {
	if i.Price == nil {
		return ""
	}
	return i.Price.Currency()
}

// Input converts the item back into its record form. Catalogue-backed items drop the
// price when stripCataloguePrice is set, so it is re-derived from the catalogue on load.
func (i ListItem) Input(stripCataloguePrice bool) ListItemInput {
	quantity := i.Quantity
	in := ListItemInput{
		Key:        i.Key,
		Title:      i.Title,
		ProductKey: i.ProductKey,
		Quantity:   &quantity,
		Quantifier: i.Quantifier,
		Type:       string(i.Type),
		Data:       i.Data,
	}
	if i.Price == nil || (stripCataloguePrice && i.ProductKey != "") {
		return in
	}
	gross := i.Price.Gross()
	in.Price = &gross
	if net, ok := i.Price.Net(); ok {
		in.PriceNet = &net
	}
	if rate, ok := i.Price.TaxRate(); ok {
		in.TaxRate = &rate
	}
	in.Currency = i.Price.Currency()
	return in
}

// ListItemPatch carries partial updates for ListItems.UpdateItem. Nil fields are left unchanged.
type ListItemPatch struct {
	Title    *string          `json:"title,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Data     map[string]any   `json:"data,omitempty"`
}

func (i ListItem) apply(patch ListItemPatch) (ListItem, error) {
	if patch.Title != nil {
		i.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Quantity != nil {
		if patch.Quantity.IsNegative() {
			return ListItem{}, NewError(KindInvalidItem, "quantity must not be negative", nil)
		}
		i.Quantity = *patch.Quantity
	}
	if patch.Data != nil {
		i.Data = mergeData(i.Data, patch.Data)
	}
	return i, nil
}

func mergeData(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
