package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wagnerwagner/merx/internal/payments"
	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/httpx"
	"github.com/wagnerwagner/merx/internal/platform/requestctx"
	"github.com/wagnerwagner/merx/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives out-of-band gateway notifications.
type WebhookHandlers struct {
	gateways *payments.Registry
	orders   services.OrderService
}

// NewWebhookHandlers constructs the webhook ingress.
func NewWebhookHandlers(gateways *payments.Registry, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{gateways: gateways, orders: orders}
}

// Routes registers POST /{gateway}.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{gateway}", h.receive)
}

type webhookAck struct {
	Type string `json:"type"`
}

func (h *WebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))

	gateway, err := h.gateways.Resolve(name)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_found", "unknown gateway", http.StatusNotFound))
		return
	}
	parser, ok := gateway.(payments.WebhookParser)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_found", "gateway does not accept webhooks", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	event, err := parser.ParseWebhook(ctx, r, body)
	if err != nil {
		var verr *auth.VerificationError
		switch {
		case errors.As(err, &verr):
			logger.Warn("webhook verification failed", zap.String("gateway", name), zap.String("code", verr.Code), zap.Error(err))
			status := verr.Status
			if status == 0 {
				status = http.StatusUnauthorized
			}
			httpx.WriteError(ctx, w, httpx.NewError(verr.Code, verr.Message, status))
		case errors.Is(err, payments.ErrWebhookSignature):
			logger.Warn("webhook signature rejected", zap.String("gateway", name), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature could not be verified", http.StatusBadRequest))
		default:
			logger.Warn("webhook payload rejected", zap.String("gateway", name), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusBadRequest))
		}
		return
	}

	result, err := h.orders.ReconcileWebhook(ctx, gateway.Key(), event)
	if err != nil {
		// Processing failures are acknowledged so the gateway does not redeliver forever.
		logger.Warn("webhook reconciliation failed",
			zap.String("gateway", name),
			zap.String("type", event.Type),
			zap.String("correlationId", event.CorrelationID),
			zap.Error(err),
		)
	} else {
		logger.Info("webhook reconciled",
			zap.String("gateway", name),
			zap.String("type", result.Type),
			zap.String("outcome", string(result.Outcome)),
			zap.String("orderId", result.OrderID),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Type: event.Type})
}
