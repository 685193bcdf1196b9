package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/services"
)

const keyOrder = "merx.order"

// OrderHandlers serves finalized orders to buyers holding the secure hash and to admins.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs the order routes.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers GET /{orderID}. The router should run the optional Firebase
// authentication middleware so admin tokens are recognised.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}", h.getOrder)
}

type orderPayload struct {
	domain.Order
	Hash string `json:"hash"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err, keyOrder)
		return
	}
	if !canViewOrder(r, order) {
		writeServiceError(ctx, w, domain.NewError(domain.KindForbidden, "order access denied", nil), keyOrder)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderPayload{Order: order, Hash: order.SecureHash()})
}

func canViewOrder(r *http.Request, order domain.Order) bool {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.HasAnyRole(auth.RoleAdmin, auth.RoleSystem) {
		return true
	}
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	expected := order.SecureHash()
	if hash == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(expected)) == 1
}
