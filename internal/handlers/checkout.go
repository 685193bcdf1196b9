package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/payments"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/platform/requestctx"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/services"
)

type checkoutResponse struct {
	Status       string `json:"status"`
	Code         int    `json:"code"`
	RedirectURL  string `json:"redirectUrl"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// recoverableKinds send non-JSON buyers back to the checkout page with a flash message.
var recoverableKinds = map[domain.ErrorKind]bool{
	domain.KindEmptyCart:        true,
	domain.KindPaymentCanceled:  true,
	domain.KindNoPaymentMethod:  true,
	domain.KindValidationFailed: true,
	domain.KindUnknownGateway:   true,
	domain.KindMixedCurrency:    true,
	domain.KindSessionExpired:   true,
}

func (h *ShopHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fields, err := checkoutFields(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	ref, err := h.cartRef(r)
	if err != nil {
		h.checkoutFailure(w, r, err, keyInitializePayment)
		return
	}
	successURL := h.successURL(r)
	result, err := h.orders.InitializeOrder(ctx, services.InitializeOrderCommand{
		Cart:   ref,
		Fields: fields,
		Checkout: payments.Checkout{
			ReturnURL: successURL,
			CancelURL: successURL,
			ShopName:  h.cfg.ShopName,
		},
	})
	if err != nil {
		h.checkoutFailure(w, r, err, keyInitializePayment)
		return
	}

	if httpx.WantsJSON(r) {
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{
			Status:       "redirect",
			Code:         http.StatusSeeOther,
			RedirectURL:  result.RedirectURL,
			ClientSecret: result.ClientSecret,
		})
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
}

// success handles the buyer's return from the gateway. Cancellations go back to the
// checkout page; finalized orders are redirected to their secure order page.
func (h *ShopHandlers) success(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxShopBodySize)
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid return data", http.StatusBadRequest))
		return
	}
	data := make(payments.ReturnData, len(r.Form))
	for key, values := range r.Form {
		if len(values) > 0 {
			data[key] = values[0]
		}
	}
	token := data.Get(services.StagedTokenParam)
	delete(data, services.StagedTokenParam)

	cmd := services.CompletePaymentCommand{StagedToken: token, ReturnData: data}
	if sess, ok := session.FromContext(ctx); ok {
		cmd.Cart = services.CartRef{Session: sess, Rules: ruleContext(r)}
	}
	order, err := h.orders.CompletePayment(ctx, cmd)
	if err != nil {
		h.checkoutFailure(w, r, err, keyCompletePayment)
		return
	}

	target := h.orderURL(order)
	if httpx.WantsJSON(r) {
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{Status: "redirect", Code: http.StatusSeeOther, RedirectURL: target})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// checkoutFailure answers JSON clients with the error envelope. Browsers are sent back to
// the checkout page on recoverable failures and get a plain failure page otherwise.
func (h *ShopHandlers) checkoutFailure(w http.ResponseWriter, r *http.Request, err error, fallbackKey string) {
	ctx := r.Context()
	if httpx.WantsJSON(r) {
		writeServiceError(ctx, w, err, fallbackKey)
		return
	}
	derr := domain.AsError(err, fallbackKey)
	if recoverableKinds[derr.Kind] {
		h.flash(ctx, r, derr.Message)
		http.Redirect(w, r, h.cfg.CheckoutPage, http.StatusSeeOther)
		return
	}

	status := derr.HTTPStatus()
	if derr.Kind == domain.KindInternal {
		requestctx.Logger(ctx).Error("checkout failed", zap.Error(err))
	} else {
		requestctx.Logger(ctx).Warn("checkout failed", zap.String("key", derr.Key), zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintf(w, "The payment could not be completed (%s). Please return to the shop and try again.\n", derr.Key)
}

func (h *ShopHandlers) flash(ctx context.Context, r *http.Request, message string) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return
	}
	if err := sess.Set(ctx, session.KeyFlash, message); err != nil {
		requestctx.Logger(ctx).Warn("store flash message", zap.Error(err))
	}
}

// checkoutFields reads the submitted buyer fields from a JSON object or a form body.
func checkoutFields(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := readLimitedBody(r, maxShopBodySize)
		if err != nil {
			return nil, err
		}
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		fields := make(map[string]string, len(raw))
		for key, value := range raw {
			switch v := value.(type) {
			case nil:
			case string:
				fields[key] = v
			case bool, float64:
				fields[key] = fmt.Sprint(v)
			default:
				return nil, fmt.Errorf("field %q must be a scalar", key)
			}
		}
		return fields, nil
	}

	if r.Body == nil {
		return map[string]string{}, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxShopBodySize)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("invalid form payload: %w", err)
	}
	fields := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields, nil
}
