// Package config loads runtime configuration from MERX_* environment variables, an optional
// .env file and Secret Manager references.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShopEndpoint         = "shop"
	defaultOrdersCollection     = "orders"
	defaultCheckoutPage         = "/checkout"
	defaultOrderPage            = "/orders"
	defaultOrderNumberPadding   = 5
	defaultSessionCookie        = "merx_session"
	defaultSessionTTL           = 14 * 24 * time.Hour
	defaultCacheTTL             = 10 * time.Minute
	defaultPayPalBaseURL        = "https://api-m.sandbox.paypal.com"
	defaultPayPalLiveURL        = "https://api-m.paypal.com"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultStagedTokenTTL       = 24 * time.Hour
	defaultPubSubTopic          = "merx-orders"
	defaultArchivePrefix        = "orders"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200

	// InvoiceWebhookSecret is the Webhooks.Secrets entry verifying invoice reconciliation calls.
	InvoiceWebhookSecret = "invoice"
)

// Persistence drivers.
const (
	DriverMemory    = "memory"
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
)

// Session and idempotency stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Shop        ShopConfig
	Session     SessionConfig
	Redis       RedisConfig
	Persistence PersistenceConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Firebase    FirebaseConfig
	Stripe      StripeConfig
	PayPal      PayPalConfig
	Webhooks    WebhookConfig
	Tokens      TokenConfig
	PubSub      PubSubConfig
	Archive     ArchiveConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port    string
	BaseURL string
	// Environment labels logs and health responses, e.g. "prod".
	Environment  string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ShopConfig holds checkout behaviour.
type ShopConfig struct {
	Endpoint           string
	OrdersCollection   string
	Production         bool
	CheckoutPage       string
	OrderPage          string
	RequiredFields     []string
	Gateways           []string
	OrderNumberPrefix  string
	OrderNumberPadding int
	RulesFile          string
	CatalogueFile      string
	// Name is passed to gateways that show the shop name to the buyer.
	Name string
	// CheckoutRateLimit caps checkout submissions per session and minute. Zero disables it.
	CheckoutRateLimit int
}

// SessionConfig controls the visitor session cookie and backing store.
type SessionConfig struct {
	Store      string
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// RedisConfig is shared by the redis session, idempotency and cache stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// PersistenceConfig selects the order/catalogue backend.
type PersistenceConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig stores the connection string for the postgres driver.
type PostgresConfig struct {
	DSN      string
	MaxConns int
}

// FirebaseConfig stores Firebase project settings used to verify admin tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked also rejects tokens of revoked or disabled accounts, at the cost of a
	// round trip per request.
	CheckRevoked bool
}

// StripeConfig holds Stripe API credentials.
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	PaymentMethods []string
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID string
	Secret   string
	BaseURL  string
}

// WebhookConfig captures webhook signing expectations.
type WebhookConfig struct {
	Secrets   map[string]string
	ClockSkew time.Duration
	NonceTTL  time.Duration
}

// TokenConfig configures the signed staged-order token.
type TokenConfig struct {
	StagedSecret string
	StagedTTL    time.Duration
}

// PubSubConfig configures order event publishing. An empty ProjectID disables it.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	EmulatorHost string
}

// ArchiveConfig configures the order archive bucket. An empty Bucket disables it.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Store            string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Stripe.SecretKey" or "Webhooks.Secrets[invoice]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "MERX_SERVER_PORT", defaultPort),
			BaseURL:      strings.TrimRight(stringWithDefault(lookup, "MERX_SERVER_BASE_URL", ""), "/"),
			Environment:  strings.ToLower(stringWithDefault(lookup, "MERX_ENVIRONMENT", "local")),
			LogLevel:     strings.ToLower(stringWithDefault(lookup, "MERX_LOG_LEVEL", "info")),
			ReadTimeout:  durationWithDefault(lookup, "MERX_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "MERX_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "MERX_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Shop: ShopConfig{
			Endpoint:           strings.Trim(stringWithDefault(lookup, "MERX_SHOP_ENDPOINT", defaultShopEndpoint), "/"),
			OrdersCollection:   stringWithDefault(lookup, "MERX_SHOP_ORDERS_COLLECTION", defaultOrdersCollection),
			Production:         boolWithDefault(lookup, "MERX_SHOP_PRODUCTION", false),
			CheckoutPage:       stringWithDefault(lookup, "MERX_SHOP_CHECKOUT_PAGE", defaultCheckoutPage),
			OrderPage:          strings.TrimRight(stringWithDefault(lookup, "MERX_SHOP_ORDER_PAGE", defaultOrderPage), "/"),
			RequiredFields:     csvWithDefault(lookup, "MERX_SHOP_REQUIRED_FIELDS"),
			Gateways:           csvWithDefault(lookup, "MERX_SHOP_GATEWAYS"),
			OrderNumberPrefix:  stringWithDefault(lookup, "MERX_SHOP_ORDER_NUMBER_PREFIX", ""),
			OrderNumberPadding: intWithDefault(lookup, "MERX_SHOP_ORDER_NUMBER_PADDING", defaultOrderNumberPadding),
			RulesFile:          stringWithDefault(lookup, "MERX_SHOP_RULES_FILE", ""),
			CatalogueFile:      stringWithDefault(lookup, "MERX_SHOP_CATALOGUE_FILE", ""),
			Name:               stringWithDefault(lookup, "MERX_SHOP_NAME", ""),
			CheckoutRateLimit:  intWithDefault(lookup, "MERX_SHOP_CHECKOUT_RATE_LIMIT", 0),
		},
		Session: SessionConfig{
			Store:      strings.ToLower(stringWithDefault(lookup, "MERX_SESSION_STORE", StoreMemory)),
			CookieName: stringWithDefault(lookup, "MERX_SESSION_COOKIE", defaultSessionCookie),
			TTL:        durationWithDefault(lookup, "MERX_SESSION_TTL", defaultSessionTTL),
			Secure:     boolWithDefault(lookup, "MERX_SESSION_SECURE", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "MERX_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "MERX_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "MERX_REDIS_DB", 0),
			CacheTTL: durationWithDefault(lookup, "MERX_REDIS_CACHE_TTL", defaultCacheTTL),
		},
		Persistence: PersistenceConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "MERX_PERSISTENCE_DRIVER", DriverMemory)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "MERX_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "MERX_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      stringWithDefault(lookup, "MERX_POSTGRES_DSN", ""),
			MaxConns: intWithDefault(lookup, "MERX_POSTGRES_MAX_CONNS", 10),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "MERX_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "MERX_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "MERX_FIREBASE_CHECK_REVOKED", false),
		},
		Stripe: StripeConfig{
			SecretKey:      stringWithDefault(lookup, "MERX_STRIPE_SECRET_KEY", ""),
			WebhookSecret:  stringWithDefault(lookup, "MERX_STRIPE_WEBHOOK_SECRET", ""),
			PaymentMethods: csvWithDefault(lookup, "MERX_STRIPE_PAYMENT_METHODS"),
		},
		PayPal: PayPalConfig{
			ClientID: stringWithDefault(lookup, "MERX_PAYPAL_CLIENT_ID", ""),
			Secret:   stringWithDefault(lookup, "MERX_PAYPAL_SECRET", ""),
			BaseURL:  strings.TrimRight(stringWithDefault(lookup, "MERX_PAYPAL_BASE_URL", ""), "/"),
		},
		Webhooks: WebhookConfig{
			Secrets:   mapWithDefault(lookup, "MERX_WEBHOOK_SECRETS"),
			ClockSkew: durationWithDefault(lookup, "MERX_WEBHOOK_CLOCK_SKEW", defaultHMACClockSkew),
			NonceTTL:  durationWithDefault(lookup, "MERX_WEBHOOK_NONCE_TTL", defaultHMACNonceTTL),
		},
		Tokens: TokenConfig{
			StagedSecret: stringWithDefault(lookup, "MERX_TOKENS_STAGED_SECRET", ""),
			StagedTTL:    durationWithDefault(lookup, "MERX_TOKENS_STAGED_TTL", defaultStagedTokenTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "MERX_PUBSUB_PROJECT_ID", ""),
			Topic:        stringWithDefault(lookup, "MERX_PUBSUB_TOPIC", defaultPubSubTopic),
			EmulatorHost: stringWithDefault(lookup, "MERX_PUBSUB_EMULATOR_HOST", ""),
		},
		Archive: ArchiveConfig{
			Bucket: stringWithDefault(lookup, "MERX_ARCHIVE_BUCKET", ""),
			Prefix: strings.Trim(stringWithDefault(lookup, "MERX_ARCHIVE_PREFIX", defaultArchivePrefix), "/"),
		},
		Idempotency: IdempotencyConfig{
			Store:            strings.ToLower(stringWithDefault(lookup, "MERX_IDEMPOTENCY_STORE", StoreMemory)),
			Header:           stringWithDefault(lookup, "MERX_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "MERX_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "MERX_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "MERX_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if len(cfg.Shop.Gateways) == 0 {
		cfg.Shop.Gateways = []string{"invoice"}
	}
	for i, gateway := range cfg.Shop.Gateways {
		cfg.Shop.Gateways[i] = strings.ToLower(gateway)
	}
	if cfg.PayPal.BaseURL == "" {
		cfg.PayPal.BaseURL = defaultPayPalBaseURL
		if cfg.Shop.Production {
			cfg.PayPal.BaseURL = defaultPayPalLiveURL
		}
	}
	// Firestore and Pub/Sub projects default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" && cfg.PubSub.EmulatorHost != "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	recordSecret := func(name, value string) {
		resolvedSecrets[name] = strings.TrimSpace(value)
	}
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		recordSecret(name, resolved)
		return nil
	}

	for key, value := range cfg.Webhooks.Secrets {
		fieldName := fmt.Sprintf("Webhooks.Secrets[%s]", key)
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Webhooks.Secrets[key] = resolved
		recordSecret(fieldName, resolved)
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Stripe.SecretKey", &cfg.Stripe.SecretKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"PayPal.Secret", &cfg.PayPal.Secret},
		{"Tokens.StagedSecret", &cfg.Tokens.StagedSecret},
		{"Redis.Password", &cfg.Redis.Password},
		{"Postgres.DSN", &cfg.Postgres.DSN},
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	required := append([]string(nil), options.requiredSecrets...)
	if cfg.Shop.Production {
		required = append(required, productionSecrets(cfg)...)
	}
	if missing := findMissingSecrets(required, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

// HasGateway reports whether the payment method key is enabled.
func (c ShopConfig) HasGateway(key string) bool {
	for _, g := range c.Gateways {
		if g == strings.ToLower(key) {
			return true
		}
	}
	return false
}

func productionSecrets(cfg Config) []string {
	names := []string{"Tokens.StagedSecret"}
	if cfg.Shop.HasGateway("stripe") {
		names = append(names, "Stripe.SecretKey", "Stripe.WebhookSecret")
	}
	if cfg.Shop.HasGateway("paypal") {
		names = append(names, "PayPal.Secret")
	}
	if cfg.Shop.HasGateway("invoice") {
		names = append(names, fmt.Sprintf("Webhooks.Secrets[%s]", InvoiceWebhookSecret))
	}
	return names
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}


func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Shop.Endpoint == "" {
		missing = append(missing, "Shop.Endpoint")
	}
	if cfg.Shop.OrderNumberPadding < 0 {
		missing = append(missing, "Shop.OrderNumberPadding")
	}
	for _, gateway := range cfg.Shop.Gateways {
		switch gateway {
		case "invoice":
		case "stripe":
			if cfg.Stripe.SecretKey == "" {
				missing = append(missing, "Stripe.SecretKey")
			}
		case "paypal":
			if cfg.PayPal.ClientID == "" {
				missing = append(missing, "PayPal.ClientID")
			}
		default:
			missing = append(missing, "Shop.Gateways["+gateway+"]")
		}
	}
	switch cfg.Persistence.Driver {
	case DriverMemory:
	case DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
	default:
		missing = append(missing, "Persistence.Driver")
	}
	needsRedis := false
	for name, store := range map[string]string{"Session.Store": cfg.Session.Store, "Idempotency.Store": cfg.Idempotency.Store} {
		switch store {
		case StoreMemory:
		case StoreRedis:
			needsRedis = true
		default:
			missing = append(missing, name)
		}
	}
	if needsRedis && cfg.Redis.Addr == "" {
		missing = append(missing, "Redis.Addr")
	}
	if cfg.Session.TTL <= 0 {
		missing = append(missing, "Session.TTL")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}
