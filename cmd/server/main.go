// Command server starts the StreamVault API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"streamvault/internal/api"
	"streamvault/internal/observability/logging"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/server"
	"streamvault/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	baseURL := flag.String("base-url", "", "public base URL used when building playback and thumbnail links")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	retainRenditions := flag.Bool("retain-renditions-on-retry", false, "keep prior rendition records when a job is retried")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	queueDriver := flag.String("queue-driver", "", "transcoding queue driver (memory or redis)")
	redisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcoding queue")
	redisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcoding queue")
	redisUsername := flag.String("queue-redis-username", "", "Redis username for the transcoding queue")
	redisPassword := flag.String("queue-redis-password", "", "Redis password for the transcoding queue")
	redisStream := flag.String("queue-redis-stream", "", "Redis stream key for transcoding jobs")
	redisGroup := flag.String("queue-redis-group", "", "Redis consumer group for transcoding jobs")
	redisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcoding queue")
	redisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcoding queue")
	redisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMVAULT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("STREAMVAULT_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	publicBaseURL := firstNonEmpty(*baseURL, os.Getenv("STREAMVAULT_BASE_URL"))
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, storeSettings{
		Driver:           firstNonEmpty(*storageDriver, os.Getenv("STREAMVAULT_STORAGE_DRIVER")),
		DataPath:         *dataPath,
		PostgresDSN:      resolvePostgresDSN(*postgresDSN),
		MaxConns:         resolveInt(*postgresMaxConns, "STREAMVAULT_POSTGRES_MAX_CONNS"),
		MinConns:         resolveInt(*postgresMinConns, "STREAMVAULT_POSTGRES_MIN_CONNS"),
		MaxConnLifetime:  resolveDuration(*postgresMaxConnLifetime, "STREAMVAULT_POSTGRES_MAX_CONN_LIFETIME", 0),
		MaxConnIdle:      resolveDuration(*postgresMaxConnIdle, "STREAMVAULT_POSTGRES_MAX_CONN_IDLE", 0),
		HealthInterval:   resolveDuration(*postgresHealthInterval, "STREAMVAULT_POSTGRES_HEALTH_INTERVAL", 0),
		AcquireTimeout:   resolveDuration(*postgresAcquireTimeout, "STREAMVAULT_POSTGRES_ACQUIRE_TIMEOUT", 0),
		AppName:          firstNonEmpty(*postgresAppName, os.Getenv("STREAMVAULT_POSTGRES_APP_NAME")),
		RetainRenditions: resolveBool(*retainRenditions, "STREAMVAULT_RETAIN_RENDITIONS_ON_RETRY"),
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}()

	queueCfg := queue.RedisQueueConfig{
		Addr:       firstNonEmpty(*redisAddr, os.Getenv("STREAMVAULT_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("STREAMVAULT_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*redisUsername, os.Getenv("STREAMVAULT_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*redisPassword, os.Getenv("STREAMVAULT_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*redisStream, os.Getenv("STREAMVAULT_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*redisGroup, os.Getenv("STREAMVAULT_QUEUE_REDIS_GROUP")),
		MasterName: firstNonEmpty(*redisMasterName, os.Getenv("STREAMVAULT_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*redisPoolSize, "STREAMVAULT_QUEUE_REDIS_POOL_SIZE"),
		TLS: queue.RedisTLSConfig{
			CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "STREAMVAULT_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	jobQueue, err := configureQueue(firstNonEmpty(*queueDriver, os.Getenv("STREAMVAULT_QUEUE_DRIVER")), queueCfg, logger)
	if err != nil {
		logger.Error("failed to configure transcoding queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.Warn("failed to close queue", "error", err)
		}
	}()

	handler := api.NewHandler(store, jobQueue, publicBaseURL)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMVAULT_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMVAULT_TLS_KEY")),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type storeSettings struct {
	Driver           string
	DataPath         string
	PostgresDSN      string
	MaxConns         int
	MinConns         int
	MaxConnLifetime  time.Duration
	MaxConnIdle      time.Duration
	HealthInterval   time.Duration
	AcquireTimeout   time.Duration
	AppName          string
	RetainRenditions bool
}

func openStore(ctx context.Context, settings storeSettings) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(settings.Driver))
	if driver == "" {
		if settings.PostgresDSN != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	var opts []storage.Option
	if settings.RetainRenditions {
		opts = append(opts, storage.WithRetainRenditionsOnRetry())
	}
	switch driver {
	case "json":
		return storage.NewStorage(resolveDataPath(settings.DataPath, os.Getenv("STREAMVAULT_DATA")), opts...)
	case "postgres":
		if settings.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		if settings.MaxConns > 0 || settings.MinConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(settings.MaxConns), int32(settings.MinConns)))
		}
		if settings.MaxConnLifetime > 0 || settings.MaxConnIdle > 0 || settings.HealthInterval > 0 {
			opts = append(opts, storage.WithPostgresPoolDurations(settings.MaxConnLifetime, settings.MaxConnIdle, settings.HealthInterval))
		}
		if settings.AcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(settings.AcquireTimeout))
		}
		if settings.AppName != "" {
			opts = append(opts, storage.WithPostgresApplicationName(settings.AppName))
		}
		return storage.NewPostgresRepository(ctx, settings.PostgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func configureQueue(driver string, cfg queue.RedisQueueConfig, logger *slog.Logger) (queue.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the transcoding queue")
		}
		cfg.Logger = logging.WithComponent(logger, "queue")
		return queue.NewRedisQueue(cfg)
	case "", "memory":
		return queue.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("STREAMVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
