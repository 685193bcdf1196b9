package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Shop.Endpoint != "shop" || cfg.Shop.OrdersCollection != "orders" {
		t.Errorf("unexpected shop defaults: %+v", cfg.Shop)
	}
	if len(cfg.Shop.Gateways) != 1 || cfg.Shop.Gateways[0] != "invoice" {
		t.Errorf("expected invoice as only default gateway, got %v", cfg.Shop.Gateways)
	}
	if cfg.Persistence.Driver != DriverMemory || cfg.Session.Store != StoreMemory {
		t.Errorf("expected memory backends by default, got %s/%s", cfg.Persistence.Driver, cfg.Session.Store)
	}
	if cfg.Session.CookieName != defaultSessionCookie || cfg.Session.TTL != defaultSessionTTL {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.PayPal.BaseURL != defaultPayPalBaseURL {
		t.Errorf("expected sandbox paypal url outside production, got %s", cfg.PayPal.BaseURL)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Tokens.StagedTTL != defaultStagedTokenTTL {
		t.Errorf("unexpected staged token ttl: %s", cfg.Tokens.StagedTTL)
	}
	if cfg.Server.Environment != "local" || cfg.Server.LogLevel != "info" {
		t.Errorf("unexpected server labels: %s/%s", cfg.Server.Environment, cfg.Server.LogLevel)
	}
	if cfg.Shop.CheckoutRateLimit != 0 {
		t.Errorf("expected checkout rate limit disabled, got %d", cfg.Shop.CheckoutRateLimit)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"MERX_SERVER_PORT":               "9090",
		"MERX_SERVER_BASE_URL":           "https://shop.example.com/",
		"MERX_SERVER_IDLE_TIMEOUT":       "2m",
		"MERX_SHOP_ENDPOINT":             "/store/",
		"MERX_SHOP_PRODUCTION":           "true",
		"MERX_SHOP_REQUIRED_FIELDS":      "email, name",
		"MERX_SHOP_GATEWAYS":             "Invoice,stripe,paypal",
		"MERX_SHOP_ORDER_NUMBER_PREFIX":  "M-",
		"MERX_PERSISTENCE_DRIVER":        "postgres",
		"MERX_POSTGRES_DSN":              "secret://postgres/dsn",
		"MERX_SESSION_STORE":             "redis",
		"MERX_REDIS_ADDR":                "localhost:6379",
		"MERX_STRIPE_SECRET_KEY":         "secret://stripe/api",
		"MERX_STRIPE_WEBHOOK_SECRET":     "sm://stripe/webhook",
		"MERX_PAYPAL_CLIENT_ID":          "paypal-client",
		"MERX_PAYPAL_SECRET":             "secret://paypal/secret",
		"MERX_WEBHOOK_SECRETS":           "Invoice=secret://hmac/invoice,bank=bank-secret",
		"MERX_WEBHOOK_CLOCK_SKEW":        "3m",
		"MERX_TOKENS_STAGED_SECRET":      "secret://tokens/staged",
		"MERX_IDEMPOTENCY_HEADER":        "X-Idem-Key",
		"MERX_IDEMPOTENCY_TTL":           "48h",
		"MERX_IDEMPOTENCY_CLEANUP_BATCH": "500",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
		"secret://paypal/secret":  "paypal-secret",
		"secret://hmac/invoice":   "invoice-hmac",
		"secret://tokens/staged":  "staged-secret",
		"secret://postgres/dsn":   "postgres://merx@localhost/merx",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.BaseURL != "https://shop.example.com" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Shop.Endpoint != "store" {
		t.Errorf("expected trimmed endpoint, got %s", cfg.Shop.Endpoint)
	}
	if !cfg.Shop.HasGateway("INVOICE") || !cfg.Shop.HasGateway("paypal") {
		t.Errorf("expected gateways enabled, got %v", cfg.Shop.Gateways)
	}
	if len(cfg.Shop.RequiredFields) != 2 || cfg.Shop.RequiredFields[1] != "name" {
		t.Errorf("unexpected required fields %v", cfg.Shop.RequiredFields)
	}
	if cfg.Stripe.SecretKey != "stripe-key" || cfg.Stripe.WebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved stripe secrets, got %+v", cfg.Stripe)
	}
	if cfg.PayPal.Secret != "paypal-secret" {
		t.Errorf("expected resolved paypal secret, got %s", cfg.PayPal.Secret)
	}
	if cfg.PayPal.BaseURL != defaultPayPalLiveURL {
		t.Errorf("expected live paypal url in production, got %s", cfg.PayPal.BaseURL)
	}
	if cfg.Postgres.DSN != "postgres://merx@localhost/merx" {
		t.Errorf("expected resolved dsn, got %s", cfg.Postgres.DSN)
	}
	if cfg.Webhooks.Secrets[InvoiceWebhookSecret] != "invoice-hmac" {
		t.Errorf("expected resolved invoice hmac secret, got %s", cfg.Webhooks.Secrets[InvoiceWebhookSecret])
	}
	if cfg.Webhooks.Secrets["bank"] != "bank-secret" {
		t.Errorf("expected literal bank secret, got %s", cfg.Webhooks.Secrets["bank"])
	}
	if cfg.Webhooks.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Webhooks.ClockSkew)
	}
	if cfg.Tokens.StagedSecret != "staged-secret" {
		t.Errorf("unexpected staged secret %s", cfg.Tokens.StagedSecret)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "MERX_SERVER_PORT=7070\nexport MERX_FIREBASE_PROJECT_ID=\"merx-dot\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "merx-dot" || cfg.Firestore.ProjectID != "merx-dot" {
		t.Errorf("expected firebase project from dotenv to seed firestore, got %s/%s", cfg.Firebase.ProjectID, cfg.Firestore.ProjectID)
	}
}

func TestLoadValidationListsFields(t *testing.T) {
	env := map[string]string{
		"MERX_SHOP_GATEWAYS":      "stripe,bitcoin",
		"MERX_PERSISTENCE_DRIVER": "firestore",
		"MERX_IDEMPOTENCY_STORE":  "redis",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	want := map[string]bool{
		"Stripe.SecretKey":       true,
		"Shop.Gateways[bitcoin]": true,
		"Firestore.ProjectID":    true,
		"Redis.Addr":             true,
	}
	got := validation.Fields()
	if len(got) != len(want) {
		t.Fatalf("unexpected fields %v", got)
	}
	for _, field := range got {
		if !want[field] {
			t.Fatalf("unexpected field %s in %v", field, got)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"MERX_SHOP_GATEWAYS":     "stripe",
		"MERX_STRIPE_SECRET_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "MERX_FIREBASE_PROJECT_ID=dot-project\nMERX_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("MERX_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("MERX_SECRET_PROJECT_ID", "project-prod")

	overrides := map[string]string{
		"MERX_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["MERX_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["MERX_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["MERX_SECRET_PROJECT_ID"]; got != "project-prod" {
		t.Fatalf("expected system env project, got %s", got)
	}
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	env := map[string]string{
		"MERX_SHOP_PRODUCTION": "true",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T (%v)", err, err)
	}
	names := missing.Names()
	if len(names) != 2 || names[0] != "Tokens.StagedSecret" || names[1] != "Webhooks.Secrets[invoice]" {
		t.Fatalf("unexpected missing secrets %v", names)
	}
	if got := missing.RedactedNames(); len(got) != 2 {
		t.Fatalf("expected redacted names, got %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Stripe.WebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.WebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"MERX_TOKENS_STAGED_SECRET": "sm://tokens/staged",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://tokens/staged" {
			return "legacy-secret", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Tokens.StagedSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Tokens.StagedSecret)
	}
}
