package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wagnerwagner/merx/internal/payments"
	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/config"
	"github.com/wagnerwagner/merx/internal/platform/observability"
	"github.com/wagnerwagner/merx/internal/platform/session"
	"github.com/wagnerwagner/merx/internal/repositories"
	"github.com/wagnerwagner/merx/internal/rules"
	"github.com/wagnerwagner/merx/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Carts  services.CartService
	Orders services.OrderService
}

// Infrastructure carries the clients opened by the caller. Nil members disable the feature
// they back: no Events means no order events, no Archive means no snapshots.
type Infrastructure struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Sessions session.Store
	// Catalogue overrides the registry's catalogue, e.g. with a cached decorator.
	Catalogue repositories.CatalogueRepository
	Nonces    auth.NonceStore
	Events    services.OrderEventPublisher
	Archive   services.OrderArchiver
	// Listeners receive the cart and order lifecycle hooks.
	Listeners []any
	Clock     func() time.Time
}

// Container wires repositories, gateways and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateways     *payments.Registry
	Webhooks     *auth.HMACValidator
	Rules        rules.Set
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	ruleSet := rules.Default()
	if cfg.Shop.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.Shop.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load pricing rules: %w", err)
		}
		ruleSet = loaded
	}

	nonces := infra.Nonces
	if nonces == nil {
		nonces = auth.NewInMemoryNonceStore()
	}
	validator := auth.NewHMACValidator(auth.StaticSecrets(cfg.Webhooks.Secrets), nonces,
		auth.WithHMACLogger(observability.NewPrintfAdapter(infra.Logger.Named("webhooks"))),
		auth.WithHMACClockSkew(cfg.Webhooks.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Webhooks.NonceTTL),
		auth.WithHMACClock(infra.Clock),
	)

	gateways, err := buildGateways(cfg, validator, ruleSet, infra)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(ctx, cfg, reg, gateways, ruleSet, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Gateways:     gateways,
		Webhooks:     validator,
		Rules:        ruleSet,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// buildGateways registers the payment methods enabled in Shop.Gateways, in that order.
func buildGateways(cfg config.Config, validator *auth.HMACValidator, ruleSet rules.Set, infra Infrastructure) (*payments.Registry, error) {
	gateways := make([]payments.Gateway, 0, len(cfg.Shop.Gateways))
	for _, key := range cfg.Shop.Gateways {
		switch key {
		case payments.InvoiceKey:
			gateways = append(gateways, payments.NewInvoice(validator, config.InvoiceWebhookSecret))
		case payments.StripeKey:
			gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
				SecretKey:       cfg.Stripe.SecretKey,
				WebhookSecret:   cfg.Stripe.WebhookSecret,
				PaymentMethods:  cfg.Stripe.PaymentMethods,
				DefaultCurrency: defaultCurrency(ruleSet),
				Logger:          observability.ServiceLogger(infra.Logger.Named("stripe")),
				Clock:           infra.Clock,
			})
			if err != nil {
				return nil, fmt.Errorf("build stripe gateway: %w", err)
			}
			gateways = append(gateways, gateway)
		case payments.PayPalKey:
			gateway, err := payments.NewPayPalGateway(payments.PayPalGatewayConfig{
				ClientID: cfg.PayPal.ClientID,
				Secret:   cfg.PayPal.Secret,
				BaseURL:  cfg.PayPal.BaseURL,
				Logger:   observability.ServiceLogger(infra.Logger.Named("paypal")),
				Clock:    infra.Clock,
			})
			if err != nil {
				return nil, fmt.Errorf("build paypal gateway: %w", err)
			}
			gateways = append(gateways, gateway)
		default:
			return nil, fmt.Errorf("unknown payment gateway %q", key)
		}
	}
	registry, err := payments.NewRegistry(gateways...)
	if err != nil {
		return nil, fmt.Errorf("build gateway registry: %w", err)
	}
	return registry, nil
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, gateways *payments.Registry, ruleSet rules.Set, infra Infrastructure) (Services, error) {
	listeners := services.NewListeners(infra.Listeners...)
	logger := observability.ServiceLogger(infra.Logger.Named("services"))

	catalogue := infra.Catalogue
	if catalogue == nil {
		catalogue = reg.Catalogue()
	}
	var cartMetrics interface{ CartMutation(operation, result string) }
	if infra.Metrics != nil {
		cartMetrics = infra.Metrics
	}
	carts, err := services.NewCartService(services.CartServiceDeps{
		Catalogue: catalogue,
		Rules:     ruleSet,
		Listeners: listeners,
		Metrics:   cartMetrics,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	var tokens *auth.StagedTokenSigner
	if cfg.Tokens.StagedSecret != "" {
		tokens, err = auth.NewStagedTokenSigner(cfg.Tokens.StagedSecret, cfg.Tokens.StagedTTL)
		if err != nil {
			return Services{}, fmt.Errorf("build staged token signer: %w", err)
		}
	}

	deps := services.OrderServiceDeps{
		Carts:          carts,
		Orders:         reg.Orders(),
		Counters:       reg.Counters(),
		Gateways:       gateways,
		Sessions:       infra.Sessions,
		SessionTTL:     cfg.Session.TTL,
		Listeners:      listeners,
		Events:         infra.Events,
		Archive:        infra.Archive,
		RequiredFields: cfg.Shop.RequiredFields,
		NumberPrefix:   cfg.Shop.OrderNumberPrefix,
		NumberPadding:  cfg.Shop.OrderNumberPadding,
		Clock:          infra.Clock,
		Logger:         logger,
	}
	if tokens != nil {
		deps.Tokens = tokens
	}
	if infra.Metrics != nil {
		deps.Metrics = infra.Metrics
	}
	orders, err := services.NewOrderService(deps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	return Services{Carts: carts, Orders: orders}, nil
}

// defaultCurrency is the currency of the first pricing rule, used when an order carries none.
func defaultCurrency(ruleSet rules.Set) string {
	for _, rule := range ruleSet.Pricing {
		if rule.Currency != "" {
			return rule.Currency
		}
	}
	return "EUR"
}
