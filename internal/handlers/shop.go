package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/platform/requestctx"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/services"
)

const (
	maxShopBodySize = 16 * 1024

	keyInitializePayment = "merx.initializePayment"
	keyCompletePayment   = "merx.completePayment"
	keyCart              = "merx.cart"
)

var (
	errBodyTooLarge = errors.New("request body exceeds allowed size")
	errEmptyBody    = errors.New("request body is required")
)

// ShopConfig configures URLs the shop routes redirect to.
type ShopConfig struct {
	// PublicURL is the absolute URL the shop routes are served under, e.g.
	// "https://shop.example/api/shop". When empty it is derived from the request.
	PublicURL string
	BasePath  string
	// CheckoutPage receives the buyer after recoverable checkout failures.
	CheckoutPage string
	// OrderPage is the prefix of finalized order pages; the order id and hash are appended.
	OrderPage string
	ShopName  string
	// CheckoutRateLimit caps checkout submissions per session and minute. Zero disables it.
	CheckoutRateLimit int
}

// ShopHandlers exposes the cart, checkout and gateway return routes of the visitor session.
type ShopHandlers struct {
	carts      services.CartService
	orders     services.OrderService
	cfg        ShopConfig
	checkoutMW []func(http.Handler) http.Handler
}

// NewShopHandlers constructs the shop handlers. checkoutMW wraps POST /checkout only,
// typically with the idempotency middleware.
func NewShopHandlers(carts services.CartService, orders services.OrderService, cfg ShopConfig, checkoutMW ...func(http.Handler) http.Handler) *ShopHandlers {
	if cfg.CheckoutPage == "" {
		cfg.CheckoutPage = "/checkout"
	}
	if cfg.OrderPage == "" {
		cfg.OrderPage = "/orders"
	}
	cfg.OrderPage = strings.TrimRight(cfg.OrderPage, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = defaultAPIPrefix
	}
	mw := append([]func(http.Handler) http.Handler(nil), checkoutMW...)
	if limiter := newWindowRateLimiter(cfg.CheckoutRateLimit, time.Minute, nil); limiter != nil {
		mw = append([]func(http.Handler) http.Handler{sessionRateLimit(limiter, time.Minute)}, mw...)
	}
	return &ShopHandlers{carts: carts, orders: orders, cfg: cfg, checkoutMW: mw}
}

// Routes wires the shop endpoints onto the provided router. The router must run the
// session middleware.
func (h *ShopHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/cart", h.getCart)
	r.Post("/cart", h.addToCart)
	r.Patch("/cart", h.updateCart)
	r.Delete("/cart", h.removeFromCart)
	r.Put("/currency", h.setCurrency)
	r.Get("/message", h.message)
	r.With(h.checkoutMW...).Post("/checkout", h.checkout)
	r.Get("/success", h.success)
	r.Post("/success", h.success)
}

func (h *ShopHandlers) cartRef(r *http.Request) (services.CartRef, error) {
	sess, ok := session.FromContext(r.Context())
	if !ok || sess == nil {
		return services.CartRef{}, domain.NewError(domain.KindSessionExpired, "no visitor session", nil)
	}
	return services.CartRef{Session: sess, Rules: ruleContext(r)}, nil
}

func (h *ShopHandlers) successURL(r *http.Request) string {
	if base := strings.TrimRight(h.cfg.PublicURL, "/"); base != "" {
		return base + "/success"
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(proto)
	}
	return fmt.Sprintf("%s://%s%s/success", scheme, r.Host, h.cfg.BasePath)
}

func (h *ShopHandlers) orderURL(order services.Order) string {
	return fmt.Sprintf("%s/%s?hash=%s", h.cfg.OrderPage, order.ID, order.SecureHash())
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, fallbackKey string) {
	if domain.KindOf(err) == domain.KindInternal {
		requestctx.Logger(ctx).Error("shop request failed", zap.Error(err))
	}
	httpx.WriteError(ctx, w, httpx.FromError(err, fallbackKey))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxShopBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
