package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wagnerwagner/merx/internal/di"
	"github.com/wagnerwagner/merx/internal/handlers"
	"github.com/wagnerwagner/merx/internal/platform/auth"
	"github.com/wagnerwagner/merx/internal/platform/config"
	pfirestore "github.com/wagnerwagner/merx/internal/platform/firestore"
	"github.com/wagnerwagner/merx/internal/platform/idempotency"
	"github.com/wagnerwagner/merx/internal/platform/jobs"
	"github.com/wagnerwagner/merx/internal/platform/observability"
	"github.com/wagnerwagner/merx/internal/platform/secrets"
	"github.com/wagnerwagner/merx/internal/platform/session"
	platformstorage "github.com/wagnerwagner/merx/internal/platform/storage"
	"github.com/wagnerwagner/merx/internal/repositories"
	"github.com/wagnerwagner/merx/internal/repositories/cache"
	firestoreRepo "github.com/wagnerwagner/merx/internal/repositories/firestore"
	"github.com/wagnerwagner/merx/internal/repositories/memory"
	"github.com/wagnerwagner/merx/internal/repositories/postgres"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["MERX_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("merx")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("required secrets missing", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("environment", cfg.Server.Environment))

	metrics := observability.NewMetrics()
	checks := make([]repositories.DependencyCheck, 0, 6)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = redisClient.Close()
		}()
		client := redisClient
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	reg, err := openRegistry(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open persistence", zap.String("driver", cfg.Persistence.Driver), zap.Error(err))
	}
	checks = append(checks, repositories.DependencyCheck{
		Name:  cfg.Persistence.Driver,
		Check: reg.Ping,
	})

	infra := di.Infrastructure{
		Logger:  logger,
		Metrics: metrics,
	}

	switch cfg.Session.Store {
	case config.StoreRedis:
		if redisClient == nil {
			logger.Fatal("redis session store requires MERX_REDIS_ADDR")
		}
		infra.Sessions = session.NewRedisStore(redisClient, "")
		infra.Nonces = auth.NewRedisNonceStore(redisClient, "")
	default:
		infra.Sessions = session.NewMemoryStore()
	}

	if redisClient != nil {
		cached, err := cache.NewCatalogueRepository(reg.Catalogue(), redisClient,
			cache.WithTTL(cfg.Redis.CacheTTL),
			cache.WithLogger(cache.Logger(observability.ServiceLogger(logger.Named("catalogue")))),
		)
		if err != nil {
			logger.Fatal("failed to initialise catalogue cache", zap.Error(err))
		}
		infra.Catalogue = cached
	}

	if cfg.PubSub.ProjectID != "" {
		topic, closeTopic, err := openOrderTopic(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to open order topic", zap.String("topic", cfg.PubSub.Topic), zap.Error(err))
		}
		defer closeTopic()
		publisher, err := jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order publisher", zap.Error(err))
		}
		infra.Events = publisher
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 3 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	if cfg.Archive.Bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			_ = storageClient.Close()
		}()
		archive, err := platformstorage.NewOrderArchive(storageClient, cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			logger.Fatal("failed to initialise order archive", zap.Error(err))
		}
		infra.Archive = archive
		bucket := storageClient.Bucket(cfg.Archive.Bucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "archive",
			Timeout: 3 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}

	container, err := di.NewContainer(ctx, cfg, reg, infra)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	var verifier auth.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		verifier = firebaseVerifier
	}
	authenticator := auth.NewAuthenticator(verifier)

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(healthRepo),
	)

	var idempotencyStore idempotency.Store
	switch cfg.Idempotency.Store {
	case config.StoreRedis:
		if redisClient == nil {
			logger.Fatal("redis idempotency store requires MERX_REDIS_ADDR")
		}
		idempotencyStore = idempotency.NewRedisStore(redisClient, "")
	default:
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotency.Config{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
		Logger: logger.Named("idempotency"),
	})

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	// Redis expires entries on its own; only the memory store needs sweeping.
	if sweeper, ok := idempotencyStore.(idempotency.Sweeper); ok && cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := sweeper.Sweep(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency sweep error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency sweep removed entries", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	basePath := "/api/" + strings.Trim(cfg.Shop.Endpoint, "/")
	publicURL := ""
	if cfg.Server.BaseURL != "" {
		publicURL = cfg.Server.BaseURL + basePath
	}
	shopHandlers := handlers.NewShopHandlers(container.Services.Carts, container.Services.Orders, handlers.ShopConfig{
		PublicURL:         publicURL,
		BasePath:          basePath,
		CheckoutPage:      cfg.Shop.CheckoutPage,
		OrderPage:         cfg.Shop.OrderPage,
		ShopName:          cfg.Shop.Name,
		CheckoutRateLimit: cfg.Shop.CheckoutRateLimit,
	}, idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(container.Gateways, container.Services.Orders)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger),
		observability.TraceMiddleware(traceProjectID(cfg)),
		observability.RecoveryMiddleware(logger),
		observability.RequestLoggerMiddleware(metrics),
	}
	sessionMiddleware := session.Middleware(infra.Sessions, session.CookieOptions{
		Name:   cfg.Session.CookieName,
		Path:   "/",
		Secure: cfg.Session.Secure,
		TTL:    cfg.Session.TTL,
	})

	router := handlers.NewRouter(
		handlers.WithBasePath(basePath),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithShopRoutes(shopHandlers.Routes, sessionMiddleware, handlers.Locale()),
		handlers.WithOrderRoutes(orderHandlers.Routes, authenticator.OptionalFirebaseAuth()),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("base_path", basePath))
	go func() {
		serverLogger.Info("merx shop listening", zap.Strings("gateways", container.Gateways.Keys()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openRegistry opens the persistence driver. The memory and postgres drivers read the
// catalogue from Shop.CatalogueFile; firestore keeps products in a collection.
func openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Persistence.Driver {
	case config.DriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider, cfg.Shop.OrdersCollection)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
		return reg, nil
	case config.DriverPostgres:
		catalogue, err := memory.LoadCatalogueFile(cfg.Shop.CatalogueFile)
		if err != nil {
			return nil, err
		}
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		return postgres.NewRegistry(store, catalogue), nil
	default:
		catalogue, err := memory.LoadCatalogueFile(cfg.Shop.CatalogueFile)
		if err != nil {
			return nil, err
		}
		return memory.NewRegistry(catalogue), nil
	}
}

// openOrderTopic returns the order event topic with ordering enabled. The returned func
// flushes pending publishes and closes the client.
func openOrderTopic(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Topic, func(), error) {
	var opts []option.ClientOption
	if cfg.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, nil, err
	}
	topic := client.Topic(cfg.Topic)
	topic.EnableMessageOrdering = true
	return topic, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["MERX_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["MERX_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Server.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firebase.ProjectID != "" {
		return cfg.Firebase.ProjectID
	}
	if cfg.Firestore.ProjectID != "" {
		return cfg.Firestore.ProjectID
	}
	return cfg.PubSub.ProjectID
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("MERX_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("MERX_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("MERX_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("MERX_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
