package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wagnerwagner/merx/internal/domain"
	"github.com/wagnerwagner/merx/internal/payments"
	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/platform/textutil"
	"github.com/wagnerwagner/merx/internal/repositories"
)

const (
	defaultOrderCounterID   = "orders"
	defaultOrderNumberWidth = 5

	// StagedTokenParam is the return URL query parameter carrying the signed staged order token.
	StagedTokenParam = "merx"

	keyInitializePayment = "merx.initializePayment"
	keyCompletePayment   = "merx.completePayment"
)

var (
	errOrderCartsRequired    = errors.New("order service: cart service is required")
	errOrderOrdersRequired   = errors.New("order service: order repository is required")
	errOrderCountersRequired = errors.New("order service: counter repository is required")
	errOrderGatewaysRequired = errors.New("order service: gateway registry is required")
)

// paymentFieldAliases are accepted spellings of the payment method field.
var paymentFieldAliases = []string{"paymentMethod", "paymentGateway", "paymentgateway", "payment-gateway"}

type stagedTokens interface {
	Sign(sessionToken, stagedID string) (string, error)
	Parse(raw string) (sessionToken, stagedID string, err error)
}

type orderMetrics interface {
	CheckoutInitialized(gateway, result string)
	PaymentCompleted(gateway, result string)
	WebhookReceived(gateway, outcome string)
	OrderFinalized()
}

// OrderServiceDeps wires the orchestrator.
type OrderServiceDeps struct {
	Carts    CartService
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Gateways *payments.Registry
	// Sessions resolves the session named by a staged token when the return request
	// arrives without the session cookie.
	Sessions       session.Store
	SessionTTL     time.Duration
	Tokens         stagedTokens
	Listeners      *Listeners
	Events         OrderEventPublisher
	Archive        OrderArchiver
	Metrics        orderMetrics
	RequiredFields []string
	NumberPrefix   string
	NumberPadding  int
	CounterID      string
	Clock          func() time.Time
	Logger         Logger
	IDGenerator    func() string
	UUIDGenerator  func() string
}

type orderService struct {
	carts          CartService
	orders         repositories.OrderRepository
	counters       repositories.CounterRepository
	gateways       *payments.Registry
	sessions       session.Store
	sessionTTL     time.Duration
	tokens         stagedTokens
	listeners      *Listeners
	events         OrderEventPublisher
	archive        OrderArchiver
	metrics        orderMetrics
	requiredFields []string
	numberPrefix   string
	numberPadding  int
	counterID      string
	now            func() time.Time
	logger         Logger
	newID          func() string
	newUUID        func() string

	// finalizing collapses concurrent finalizations of one staged order.
	finalizing singleflight.Group
}

// NewOrderService constructs the orchestrator. Order writes are routed through
// repositories.GuardOrders, so finalization only succeeds under the system identity.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Carts == nil {
		return nil, errOrderCartsRequired
	}
	if deps.Orders == nil {
		return nil, errOrderOrdersRequired
	}
	if deps.Counters == nil {
		return nil, errOrderCountersRequired
	}
	if deps.Gateways == nil {
		return nil, errOrderGatewaysRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	uuidGen := deps.UUIDGenerator
	if uuidGen == nil {
		uuidGen = uuid.NewString
	}
	padding := deps.NumberPadding
	if padding <= 0 {
		padding = defaultOrderNumberWidth
	}
	counterID := strings.TrimSpace(deps.CounterID)
	if counterID == "" {
		counterID = defaultOrderCounterID
	}

	required := make([]string, 0, len(deps.RequiredFields))
	for _, field := range deps.RequiredFields {
		if field = strings.TrimSpace(field); field != "" {
			required = append(required, field)
		}
	}

	return &orderService{
		carts:          deps.Carts,
		orders:         repositories.GuardOrders(deps.Orders),
		counters:       deps.Counters,
		gateways:       deps.Gateways,
		sessions:       deps.Sessions,
		sessionTTL:     deps.SessionTTL,
		tokens:         deps.Tokens,
		listeners:      deps.Listeners,
		events:         deps.Events,
		archive:        deps.Archive,
		metrics:        deps.Metrics,
		requiredFields: required,
		numberPrefix:   deps.NumberPrefix,
		numberPadding:  padding,
		counterID:      counterID,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		newID:          idGen,
		newUUID:        uuidGen,
	}, nil
}

// PaymentMethodFromFields extracts the payment method from submitted fields using any of
// the accepted aliases and returns the remaining buyer fields.
func PaymentMethodFromFields(fields map[string]string) (string, map[string]string) {
	rest := make(map[string]string, len(fields))
	method := ""
	for key, value := range fields {
		rest[key] = value
	}
	for _, alias := range paymentFieldAliases {
		if value, ok := rest[alias]; ok {
			if method == "" {
				method = strings.TrimSpace(value)
			}
			delete(rest, alias)
		}
	}
	return method, rest
}

// InitializeOrder validates the cart and buyer fields, stages the order in the session and
// runs the gateway's initialize phase.
func (s *orderService) InitializeOrder(ctx context.Context, cmd InitializeOrderCommand) (InitializeOrderResult, error) {
	method := strings.TrimSpace(cmd.PaymentMethod)
	fromFields, rest := PaymentMethodFromFields(cmd.Fields)
	if method == "" {
		method = fromFields
	}
	fields := textutil.SanitizeStringMap(rest)

	result, err := s.initialize(ctx, cmd, method, fields)
	gatewayLabel := strings.ToLower(method)
	if err != nil {
		s.recordCheckout(gatewayLabel, err)
		return InitializeOrderResult{}, domain.AsError(err, keyInitializePayment)
	}
	s.recordCheckout(gatewayLabel, nil)
	return result, nil
}

func (s *orderService) initialize(ctx context.Context, cmd InitializeOrderCommand, method string, fields map[string]string) (InitializeOrderResult, error) {
	if cmd.Cart.Session == nil {
		return InitializeOrderResult{}, domain.NewError(domain.KindSessionExpired, "no session for checkout", nil)
	}
	cart, err := s.carts.Load(ctx, cmd.Cart)
	if err != nil {
		return InitializeOrderResult{}, err
	}

	event := OrderInitializeEvent{Items: cart.Items, PaymentMethod: method, Fields: fields}
	if err := runBefore(s.listeners, func(l BeforeOrderInitialize) error { return l.BeforeOrderInitialize(ctx, event) }); err != nil {
		return InitializeOrderResult{}, err
	}
	if cart.Items.Len() == 0 || !cart.Items.IsOrderable() {
		return InitializeOrderResult{}, domain.NewError(domain.KindEmptyCart, "cart has no orderable items", nil)
	}
	if method == "" {
		return InitializeOrderResult{}, domain.NewError(domain.KindNoPaymentMethod, "payment method is required", nil)
	}
	if err := s.validateFields(fields); err != nil {
		return InitializeOrderResult{}, err
	}
	gateway, err := s.gateways.Resolve(method)
	if err != nil {
		return InitializeOrderResult{}, err
	}

	total, _ := cart.Items.Total()
	staged := StagedOrder{
		ID:            s.newID(),
		SessionToken:  cmd.Cart.Session.Token(),
		Items:         cart.Items.Inputs(false),
		Totals:        domain.TotalsFromPrice(total),
		Fields:        fields,
		PaymentMethod: gateway.Key(),
		CreatedAt:     s.now(),
	}
	staged.Slug = strings.ToLower(staged.ID)
	event.Staged = &staged
	runAfter(s.listeners, func(l AfterOrderInitialize) { l.AfterOrderInitialize(ctx, event) })

	checkout := cmd.Checkout
	token := ""
	if s.tokens != nil {
		if token, err = s.tokens.Sign(staged.SessionToken, staged.ID); err != nil {
			return InitializeOrderResult{}, domain.NewError(domain.KindInternal, "sign staged order token", err)
		}
		checkout.ReturnURL = withQueryParam(checkout.ReturnURL, StagedTokenParam, token)
		checkout.CancelURL = withQueryParam(checkout.CancelURL, StagedTokenParam, token)
	}

	if err := runBefore(s.listeners, func(l BeforeGatewayInitialize) error { return l.BeforeGatewayInitialize(ctx, staged) }); err != nil {
		return InitializeOrderResult{}, err
	}
	if initializer, ok := gateway.(payments.Initializer); ok {
		staged, err = initializer.InitializePayment(ctx, staged, checkout)
		if err != nil {
			return InitializeOrderResult{}, gatewayFailure(gateway.Key(), err)
		}
	}
	if staged.CorrelationID == "" {
		staged.CorrelationID = staged.ID
	}
	if staged.RedirectURL == "" {
		staged.RedirectURL = checkout.ReturnURL
	}

	sess := cmd.Cart.Session
	if err := sess.Set(ctx, session.KeyStagedOrder, staged); err != nil {
		return InitializeOrderResult{}, domain.NewError(domain.KindInternal, "persist staged order", err)
	}
	if err := sess.Set(ctx, session.KeyCorrelationID, staged.CorrelationID); err != nil {
		return InitializeOrderResult{}, domain.NewError(domain.KindInternal, "persist correlation id", err)
	}
	runAfter(s.listeners, func(l AfterGatewayInitialize) { l.AfterGatewayInitialize(ctx, staged) })

	s.logger(ctx, "order.staged", map[string]any{
		"stagedId":      staged.ID,
		"paymentMethod": staged.PaymentMethod,
		"total":         staged.Totals.Price.String(),
		"currency":      staged.Totals.Currency,
	})
	return InitializeOrderResult{
		Staged:       staged,
		RedirectURL:  staged.RedirectURL,
		StagedToken:  token,
		ClientSecret: staged.GatewayData["clientSecret"],
	}, nil
}

// validateFields checks required buyer fields and the email format, reporting every failed field.
func (s *orderService) validateFields(fields map[string]string) error {
	var invalid []string
	for _, name := range s.requiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			invalid = append(invalid, name)
		}
	}
	if email := strings.TrimSpace(fields["email"]); email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			invalid = appendUnique(invalid, "email")
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return domain.NewError(domain.KindValidationFailed, "buyer fields are invalid", nil).
		WithDetails(map[string]any{"fields": invalid})
}

// CompletePayment resolves the staged order, runs the gateway's complete phase and finalizes
// the order. Repeated calls for a finalized order return it without contacting the gateway.
func (s *orderService) CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error) {
	staged, sess, err := s.lookupStaged(ctx, cmd)
	if err != nil {
		s.recordCompletion("", err)
		return Order{}, domain.AsError(err, keyCompletePayment)
	}

	order, err := s.complete(ctx, staged, sess, cmd)
	if err != nil {
		s.recordCompletion(staged.PaymentMethod, err)
		return Order{}, domain.AsError(err, keyCompletePayment)
	}
	s.recordCompletion(staged.PaymentMethod, nil)
	return order, nil
}

func (s *orderService) complete(ctx context.Context, staged StagedOrder, sess *session.Session, cmd CompletePaymentCommand) (Order, error) {
	existing, err := s.orders.Get(ctx, staged.ID)
	switch {
	case err == nil:
		s.logger(ctx, "order.complete.replayed", map[string]any{"orderId": existing.ID})
		s.clearCheckout(ctx, cmd.Cart, sess)
		return existing, nil
	case !repositories.IsNotFound(err):
		return Order{}, domain.NewError(domain.KindInternal, "load order", err)
	}
	if staged.PaymentMethod == "" {
		return Order{}, domain.NewError(domain.KindSessionExpired, "staged order not found", nil)
	}

	gateway, err := s.gateways.Resolve(staged.PaymentMethod)
	if err != nil {
		return Order{}, err
	}
	if err := runBefore(s.listeners, func(l BeforeOrderComplete) error { return l.BeforeOrderComplete(ctx, staged) }); err != nil {
		return Order{}, err
	}

	if completer, ok := gateway.(payments.Completer); ok {
		completed, err := completer.CompletePayment(ctx, staged, cmd.ReturnData)
		if err != nil {
			if domain.IsKind(err, domain.KindPaymentCanceled) {
				s.cancelStaged(ctx, sess)
				s.logger(ctx, "order.complete.canceled", map[string]any{"stagedId": staged.ID, "paymentMethod": staged.PaymentMethod})
				return Order{}, err
			}
			return Order{}, gatewayFailure(gateway.Key(), err)
		}
		staged = completed
	}

	var order Order
	var created bool
	err = auth.Impersonate(ctx, func(ctx context.Context) error {
		var finalizeErr error
		order, created, finalizeErr = s.finalize(ctx, staged)
		return finalizeErr
	})
	if err != nil {
		return Order{}, err
	}

	s.clearCheckout(ctx, cmd.Cart, sess)
	if created {
		s.afterFinalize(ctx, order)
	}
	return order, nil
}

// finalize numbers and stores the order. The staged id is the order id, so concurrent
// completions resolve to a single order. A number is only drawn once the order is known to
// be absent, and completions racing in this process share one draw.
func (s *orderService) finalize(ctx context.Context, staged StagedOrder) (Order, bool, error) {
	leader := false
	v, err, _ := s.finalizing.Do(staged.ID, func() (any, error) {
		leader = true
		return s.createNumbered(ctx, staged)
	})
	if err != nil {
		return Order{}, false, err
	}
	res := v.(finalized)
	return res.order, res.created && leader, nil
}

type finalized struct {
	order   Order
	created bool
}

func (s *orderService) createNumbered(ctx context.Context, staged StagedOrder) (finalized, error) {
	existing, err := s.orders.Get(ctx, staged.ID)
	switch {
	case err == nil:
		s.logger(ctx, "order.finalize.exists", map[string]any{"orderId": existing.ID})
		return finalized{order: existing}, nil
	case !repositories.IsNotFound(err):
		return finalized{}, domain.NewError(domain.KindInternal, "load order", err)
	}

	sequence, err := s.counters.Next(ctx, s.counterID, 1)
	if err != nil {
		return finalized{}, domain.NewError(domain.KindInternal, "allocate order number", err)
	}
	now := s.now()
	order := Order{
		ID:              staged.ID,
		Number:          s.formatNumber(sequence),
		Sequence:        sequence,
		AccessUUID:      s.newUUID(),
		Items:           staged.Items,
		Totals:          staged.Totals,
		Fields:          staged.Fields,
		PaymentMethod:   staged.PaymentMethod,
		CorrelationID:   staged.CorrelationID,
		PaymentComplete: staged.PaymentComplete,
		PaidAt:          staged.PaidAt,
		PaymentDetails:  staged.PaymentDetails,
		InvoiceDate:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stored, created, err := s.orders.Create(ctx, order)
	if err != nil {
		return finalized{}, domain.NewError(domain.KindInternal, "persist order", err)
	}
	if !created {
		// Another instance stored the order between Get and Create; sequence stays unused.
		s.logger(ctx, "order.finalize.exists", map[string]any{"orderId": stored.ID, "unusedSequence": sequence})
	}
	return finalized{order: stored, created: created}, nil
}

func (s *orderService) afterFinalize(ctx context.Context, order Order) {
	if s.metrics != nil {
		s.metrics.OrderFinalized()
	}
	s.logger(ctx, "order.finalized", map[string]any{
		"orderId":         order.ID,
		"number":          order.Number,
		"paymentMethod":   order.PaymentMethod,
		"paymentComplete": order.PaymentComplete,
	})
	s.publish(ctx, OrderEventCreated, order)
	if s.archive != nil {
		location, err := s.archive.ArchiveOrder(ctx, order)
		if err != nil {
			s.logger(ctx, "order.archive.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else {
			s.logger(ctx, "order.archived", map[string]any{"orderId": order.ID, "location": location})
		}
	}
	runAfter(s.listeners, func(l AfterOrderComplete) { l.AfterOrderComplete(ctx, order) })
	if order.PaymentComplete {
		s.paid(ctx, order)
	}
}

func (s *orderService) paid(ctx context.Context, order Order) {
	s.publish(ctx, OrderEventPaid, order)
	runAfter(s.listeners, func(l PaymentCompleted) { l.PaymentCompleted(ctx, order) })
}

func (s *orderService) publish(ctx context.Context, eventType string, order Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		Number:        order.Number,
		PaymentMethod: order.PaymentMethod,
		Totals:        order.Totals,
		PaidAt:        order.PaidAt,
		OccurredAt:    s.now(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{"orderId": order.ID, "type": eventType, "error": err.Error()})
	}
}

// ReconcileWebhook applies a verified gateway event to a finalized order. A missing order
// is logged and reported as WebhookNotFound; an order that is already paid is left unchanged.
func (s *orderService) ReconcileWebhook(ctx context.Context, gateway string, event payments.WebhookEvent) (ReconcileResult, error) {
	result := ReconcileResult{Type: event.Type, Outcome: WebhookIgnored}
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if !event.Paid || strings.TrimSpace(event.CorrelationID) == "" {
		s.recordWebhook(gateway, string(result.Outcome))
		return result, nil
	}

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	err := auth.Impersonate(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByCorrelation(ctx, event.CorrelationID)
		if err != nil {
			if repositories.IsNotFound(err) {
				result.Outcome = WebhookNotFound
				return nil
			}
			return err
		}
		result.OrderID = order.ID

		updated, changed, err := s.orders.MarkPaid(ctx, order.ID, paidAt, event.Details)
		if err != nil {
			return err
		}
		if !changed {
			result.Outcome = WebhookNoop
			return nil
		}
		result.Outcome = WebhookPaid
		s.paid(ctx, updated)
		return nil
	})
	if err != nil {
		s.recordWebhook(gateway, "error")
		return result, fmt.Errorf("reconcile %s webhook: %w", gateway, err)
	}

	s.logger(ctx, "order.webhook.reconciled", map[string]any{
		"gateway":       gateway,
		"type":          event.Type,
		"correlationId": event.CorrelationID,
		"outcome":       string(result.Outcome),
		"orderId":       result.OrderID,
	})
	s.recordWebhook(gateway, string(result.Outcome))
	return result, nil
}

// GetOrder returns a finalized order by id.
func (s *orderService) GetOrder(ctx context.Context, id string) (Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Order{}, domain.NewError(domain.KindNotFound, "order not found", nil)
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, domain.NewError(domain.KindNotFound, "order not found", err)
		}
		return Order{}, domain.NewError(domain.KindInternal, "load order", err)
	}
	return order, nil
}

// lookupStaged resolves the staged order from the request session, falling back to the
// session named by the signed token.
func (s *orderService) lookupStaged(ctx context.Context, cmd CompletePaymentCommand) (StagedOrder, *session.Session, error) {
	tokenSession, tokenStaged := "", ""
	if raw := strings.TrimSpace(cmd.StagedToken); raw != "" && s.tokens != nil {
		var err error
		if tokenSession, tokenStaged, err = s.tokens.Parse(raw); err != nil {
			s.logger(ctx, "order.complete.token_invalid", map[string]any{"error": err.Error()})
			tokenSession, tokenStaged = "", ""
		}
	}

	if sess := cmd.Cart.Session; sess != nil {
		var staged StagedOrder
		ok, err := sess.Get(ctx, session.KeyStagedOrder, &staged)
		if err != nil {
			return StagedOrder{}, nil, domain.NewError(domain.KindInternal, "load staged order", err)
		}
		if ok && staged.ID != "" && (tokenStaged == "" || tokenStaged == staged.ID) {
			return staged, sess, nil
		}
	}

	if tokenSession != "" && s.sessions != nil {
		sess := session.Open(s.sessions, tokenSession, s.sessionTTL)
		var staged StagedOrder
		ok, err := sess.Get(ctx, session.KeyStagedOrder, &staged)
		if err != nil {
			return StagedOrder{}, nil, domain.NewError(domain.KindInternal, "load staged order", err)
		}
		if ok && staged.ID == tokenStaged {
			return staged, sess, nil
		}
	}

	// The staged order is gone once finalized; a replayed return with a valid token still
	// resolves to the stored order through its id.
	if tokenStaged != "" {
		return StagedOrder{ID: tokenStaged}, nil, nil
	}
	return StagedOrder{}, nil, domain.NewError(domain.KindSessionExpired, "staged order not found", nil)
}

// clearCheckout empties the cart and removes the staged order from the session that held it.
func (s *orderService) clearCheckout(ctx context.Context, ref CartRef, sess *session.Session) {
	if sess == nil {
		sess = ref.Session
	}
	if sess == nil {
		return
	}
	if err := s.carts.Delete(ctx, CartRef{Session: sess, Rules: ref.Rules}); err != nil {
		s.logger(ctx, "order.cart.clear_failed", map[string]any{"error": err.Error()})
	}
	s.cancelStaged(ctx, sess)
}

func (s *orderService) cancelStaged(ctx context.Context, sess *session.Session) {
	if sess == nil {
		return
	}
	for _, key := range []string{session.KeyStagedOrder, session.KeyCorrelationID} {
		if err := sess.Remove(ctx, key); err != nil {
			s.logger(ctx, "order.session.clear_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}
}

func (s *orderService) formatNumber(sequence int64) string {
	return fmt.Sprintf("%s%0*d", s.numberPrefix, s.numberPadding, sequence)
}

func (s *orderService) recordCheckout(gateway string, err error) {
	if s.metrics != nil {
		s.metrics.CheckoutInitialized(gatewayLabel(gateway), outcomeLabel(err))
	}
}

func (s *orderService) recordCompletion(gateway string, err error) {
	if s.metrics != nil {
		s.metrics.PaymentCompleted(gatewayLabel(gateway), outcomeLabel(err))
	}
}

func (s *orderService) recordWebhook(gateway, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookReceived(gatewayLabel(gateway), outcome)
	}
}

func gatewayLabel(gateway string) string {
	if gateway == "" {
		return "unknown"
	}
	return gateway
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(domain.KindOf(err)))
}

// gatewayFailure keeps domain errors raised by gateways and wraps anything else.
func gatewayFailure(gateway string, err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.NewError(domain.KindGatewayError, gateway+": payment call failed", err)
}

func withQueryParam(raw, key, value string) string {
	if strings.TrimSpace(raw) == "" || value == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
