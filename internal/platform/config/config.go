package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultStoreBackend         = StoreBackendMemory
	defaultPostgresMaxConns     = 10
	defaultOrderTopic           = "order-events"
	defaultStockTopic           = "stock-events"
	defaultOrdersActor          = "system"
	defaultActorHeader          = "X-Actor-ID"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Store backends selectable through API_STORE_BACKEND.
const (
	StoreBackendMemory    = "memory"
	StoreBackendFirestore = "firestore"
	StoreBackendPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	PubSub      PubSubConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig stores relational backend parameters.
type PostgresConfig struct {
	DSN      string
	MaxConns int
}

// PubSubConfig names the topics that receive committed domain events.
// Publishing is disabled when ProjectID is empty.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
	OrderTopic   string
	StockTopic   string
}

// OrdersConfig holds order boundary defaults.
type OrdersConfig struct {
	// DefaultActor is recorded as creator when a request carries no actor reference.
	DefaultActor string
	// ActorHeader names the request header carrying the acting staff reference.
	ActorHeader string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists config fields that are missing or could not be parsed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env path; "" disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields (e.g. "Postgres.DSN") that must resolve
// to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load reads API_* settings, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := options.values()
	if err != nil {
		return Config{}, err
	}
	e := &env{values: values}

	cfg := Config{
		Environment: e.lower("API_ENVIRONMENT", defaultEnvironment),
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("Server.ReadTimeout", "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("Server.WriteTimeout", "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("Server.IdleTimeout", "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Backend: e.lower("API_STORE_BACKEND", defaultStoreBackend),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      e.str("API_POSTGRES_DSN", ""),
			MaxConns: e.integer("Postgres.MaxConns", "API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
		},
		PubSub: PubSubConfig{
			// Pub/Sub shares the Firestore project unless told otherwise.
			ProjectID:    e.str("API_PUBSUB_PROJECT_ID", e.str("API_FIRESTORE_PROJECT_ID", "")),
			EmulatorHost: e.str("API_PUBSUB_EMULATOR_HOST", ""),
			OrderTopic:   e.str("API_PUBSUB_ORDER_TOPIC", defaultOrderTopic),
			StockTopic:   e.str("API_PUBSUB_STOCK_TOPIC", defaultStockTopic),
		},
		Orders: OrdersConfig{
			DefaultActor: e.str("API_ORDERS_DEFAULT_ACTOR", defaultOrdersActor),
			ActorHeader:  e.str("API_ORDERS_ACTOR_HEADER", defaultActorHeader),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("Idempotency.TTL", "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("Idempotency.CleanupInterval", "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("Idempotency.CleanupBatchSize", "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Postgres.DSN, err = resolveSecret(ctx, options.secret, cfg.Postgres.DSN); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(e.invalid); err != nil {
		return Config{}, err
	}
	resolved := map[string]string{"Postgres.DSN": cfg.Postgres.DSN}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func (cfg Config) validate(invalid []string) error {
	bad := append([]string(nil), invalid...)
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StoreBackendPostgres:
		require(cfg.Postgres.DSN != "", "Postgres.DSN")
		require(cfg.Postgres.MaxConns > 0, "Postgres.MaxConns")
	default:
		bad = append(bad, "Store.Backend")
	}
	if cfg.PubSub.ProjectID != "" {
		require(cfg.PubSub.OrderTopic != "", "PubSub.OrderTopic")
		require(cfg.PubSub.StockTopic != "", "PubSub.StockTopic")
	}
	require(cfg.Orders.DefaultActor != "", "Orders.DefaultActor")
	require(cfg.Idempotency.Header != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
