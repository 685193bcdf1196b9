package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/platform/requestctx"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/services"
)

// addToCartRequest names a catalogue product by key, or by its "page" alias. Prices,
// currency and item type always come from the catalogue, never from the visitor.
type addToCartRequest struct {
	Key      string           `json:"key,omitempty"`
	Page     string           `json:"page,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Data     map[string]any   `json:"data,omitempty"`
}

type updateCartRequest struct {
	Key      string           `json:"key"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Data     map[string]any   `json:"data,omitempty"`
}

type removeFromCartRequest struct {
	Key string `json:"key"`
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

type cartItemPayload struct {
	Key        string           `json:"key"`
	Title      string           `json:"title,omitempty"`
	Product    string           `json:"product,omitempty"`
	Type       string           `json:"type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Quantifier *decimal.Decimal `json:"quantifier,omitempty"`
	Price      *domain.Price    `json:"price,omitempty"`
	Total      *domain.Price    `json:"total,omitempty"`
	Data       map[string]any   `json:"data,omitempty"`
}

type taxRatePayload struct {
	Rate      decimal.Decimal `json:"rate"`
	Formatted string          `json:"formatted"`
	Tax       decimal.Decimal `json:"tax"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency,omitempty"`
}

type cartPayload struct {
	Items       []cartItemPayload `json:"items"`
	Count       int               `json:"count"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Currency    string            `json:"currency,omitempty"`
	Total       *domain.Price     `json:"total,omitempty"`
	Formatted   string            `json:"formatted,omitempty"`
	TaxRates    []taxRatePayload  `json:"taxRates"`
	IsFromPrice bool              `json:"isFromPrice"`
	IsOrderable bool              `json:"isOrderable"`
	TaxIncluded bool              `json:"taxIncluded"`
}

func buildCartPayload(r *http.Request, cart services.Cart) cartPayload {
	locale := requestctx.LocaleFrom(r.Context())
	items := cart.Items.Items()
	payload := cartPayload{
		Items:       make([]cartItemPayload, 0, len(items)),
		Count:       cart.Items.Len(),
		Quantity:    cart.Items.Quantity(""),
		TaxRates:    []taxRatePayload{},
		IsFromPrice: cart.Items.IsFromPrice(),
		IsOrderable: cart.Items.IsOrderable(),
		TaxIncluded: cart.Rule != nil && cart.Rule.TaxIncluded,
	}
	for _, item := range items {
		entry := cartItemPayload{
			Key:        item.Key,
			Title:      item.Title,
			Product:    item.ProductKey,
			Type:       string(item.Type),
			Quantity:   item.Quantity,
			Quantifier: item.Quantifier,
			Price:      item.Price,
			Data:       item.Data,
		}
		if total, ok := item.Total(); ok {
			entry.Total = &total
		}
		payload.Items = append(payload.Items, entry)
	}
	if currency, ok := cart.Items.Currency(); ok {
		payload.Currency = currency
	}
	if total, ok := cart.Items.Total(); ok && cart.Items.Len() > 0 {
		payload.Total = &total
		payload.Formatted = total.Format(locale.Tag, domain.FieldPrice)
	}
	for _, bucket := range cart.Items.TaxRates() {
		payload.TaxRates = append(payload.TaxRates, taxRatePayload{
			Rate:      bucket.Rate,
			Formatted: domain.FormatPercent(locale.Tag, bucket.Rate),
			Tax:       bucket.Tax,
			Price:     bucket.Price,
			Currency:  bucket.Currency,
		})
	}
	return payload
}

func (h *ShopHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := h.cartRef(r)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	cart, err := h.carts.Load(ctx, ref)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(r, cart))
}

func (h *ShopHandlers) addToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShopBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req addToCartRequest
	if err := decodeStrict(body, &req); err != nil {
		writeServiceError(ctx, w, domain.NewError(domain.KindInvalidItem, "invalid line item", err), keyCart)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = strings.TrimSpace(req.Page)
	}
	if key == "" {
		writeServiceError(ctx, w, domain.NewError(domain.KindInvalidItem, "key is required", nil), keyCart)
		return
	}
	input := domain.ListItemInput{Key: key, ProductKey: key, Quantity: req.Quantity, Data: req.Data}

	ref, err := h.cartRef(r)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	cart, err := h.carts.Add(ctx, ref, input)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(r, cart))
}

func (h *ShopHandlers) updateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShopBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateCartRequest
	if err := decodeStrict(body, &req); err != nil {
		writeServiceError(ctx, w, domain.NewError(domain.KindInvalidItem, "invalid cart update", err), keyCart)
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeServiceError(ctx, w, domain.NewError(domain.KindInvalidItem, "key is required", nil), keyCart)
		return
	}

	ref, err := h.cartRef(r)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	cart, err := h.carts.UpdateItem(ctx, ref, req.Key, domain.ListItemPatch{Quantity: req.Quantity, Data: req.Data})
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(r, cart))
}

func (h *ShopHandlers) removeFromCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShopBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req removeFromCartRequest
	if err := decodeStrict(body, &req); err != nil {
		writeServiceError(ctx, w, domain.NewError(domain.KindInvalidItem, "invalid cart removal", err), keyCart)
		return
	}

	ref, err := h.cartRef(r)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	cart, err := h.carts.Remove(ctx, ref, req.Key)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(r, cart))
}

func (h *ShopHandlers) setCurrency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxShopBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req currencyRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	ref, err := h.cartRef(r)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	cart, err := h.carts.SetCurrency(ctx, ref, req.Currency)
	if err != nil {
		writeServiceError(ctx, w, err, keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(r, cart))
}

// message returns the pending flash message once.
func (h *ShopHandlers) message(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": ""})
		return
	}
	var message string
	if _, err := sess.Pull(ctx, session.KeyFlash, &message); err != nil {
		writeServiceError(ctx, w, domain.NewError(domain.KindInternal, "read flash message", err), keyCart)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": message})
}
