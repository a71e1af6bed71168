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

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/stockline/api/internal/di"
	"github.com/stockline/api/internal/handlers"
	"github.com/stockline/api/internal/platform/config"
	"github.com/stockline/api/internal/platform/events"
	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/platform/idempotency"
	"github.com/stockline/api/internal/platform/observability"
	ppostgres "github.com/stockline/api/internal/platform/postgres"
	"github.com/stockline/api/internal/platform/secrets"
	"github.com/stockline/api/internal/repositories"
	firestoreRepo "github.com/stockline/api/internal/repositories/firestore"
	memoryRepo "github.com/stockline/api/internal/repositories/memory"
	postgresRepo "github.com/stockline/api/internal/repositories/postgres"
	"github.com/stockline/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	var (
		orderEvents services.OrderEventPublisher
		stockEvents services.StockEventPublisher
		checks      = []repositories.DependencyCheck{{Name: "store", Check: store.ping}}
	)
	if strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		publisher, stop, err := newEventPublisher(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to initialise pubsub publisher", zap.Error(err))
		}
		defer stop()
		orderEvents = publisher
		stockEvents = publisher
		checks = append(checks, repositories.DependencyCheck{Name: "pubsub", Check: publisher.Ping})
	} else {
		logger.Info("pubsub project not configured; domain events are not published")
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, store.registry, di.Options{
		Health:      healthRepo,
		OrderEvents: orderEvents,
		StockEvents: stockEvents,
		Build:       buildInfo,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyMiddleware := idempotency.Middleware(
		store.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			idempotency.RunJanitor(cleanupCtx, store.idempotency, cfg.Idempotency.CleanupInterval,
				cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		observability.ActorMiddleware(cfg.Orders.ActorHeader, cfg.Orders.DefaultActor),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	productHandlers := handlers.NewProductHandlers(svc.Products, svc.Ledger)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders)
	systemHandlers := handlers.NewSystemHandlers(svc.System)

	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithProductMiddlewares(idempotencyMiddleware),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithSystemRoutes(systemHandlers.Routes),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Store.Backend))
	go func() {
		serverLogger.Info("stockline api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

type backend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	ping        func(context.Context) error
}

// openBackend builds the repository registry and idempotency store for the configured backend.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return backend{}, err
		}
		store, err := firestoreRepo.New(provider)
		if err != nil {
			return backend{}, err
		}
		idem, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return backend{}, err
		}
		return backend{registry: store, idempotency: idem, ping: store.Ping}, nil

	case config.StoreBackendPostgres:
		pool, err := ppostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return backend{}, err
		}
		if err := ppostgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		store, err := postgresRepo.New(pool)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		idem, err := idempotency.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{registry: store, idempotency: idem, ping: store.Ping}, nil

	default:
		logger.Warn("using in-memory store; data does not survive restarts")
		store := memoryRepo.New()
		return backend{registry: store, idempotency: idempotency.NewMemoryStore(), ping: store.Ping}, nil
	}
}

func newEventPublisher(ctx context.Context, cfg config.PubSubConfig) (*events.PubSubPublisher, func(), error) {
	client, err := events.NewClient(ctx, cfg.ProjectID, cfg.EmulatorHost)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := events.NewPubSubPublisher(client.Topic(cfg.OrderTopic), client.Topic(cfg.StockTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	stop := func() {
		publisher.Stop()
		_ = client.Close()
	}
	return publisher, stop, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallbackPath),
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_BACKEND"]), config.StoreBackendPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}
