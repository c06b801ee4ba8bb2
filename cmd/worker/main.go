// Command worker consumes transcoding jobs from the queue and produces HLS
// renditions with ffmpeg.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"streamvault/internal/observability/logging"
	"streamvault/internal/observability/metrics"
	"streamvault/internal/queue"
	"streamvault/internal/storage"
	"streamvault/internal/transcode"
)

func main() {
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	queueDriver := flag.String("queue-driver", "", "transcoding queue driver (memory or redis)")
	redisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcoding queue")
	redisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcoding queue")
	redisUsername := flag.String("queue-redis-username", "", "Redis username for the transcoding queue")
	redisPassword := flag.String("queue-redis-password", "", "Redis password for the transcoding queue")
	redisStream := flag.String("queue-redis-stream", "", "Redis stream key for transcoding jobs")
	redisGroup := flag.String("queue-redis-group", "", "Redis consumer group for transcoding jobs")
	redisConsumer := flag.String("queue-redis-consumer", "", "Redis consumer name for this worker")
	redisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the transcoding queue")
	redisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the transcoding queue")
	redisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	outputRoot := flag.String("output-root", "", "directory for HLS output packages")
	thumbnailRoot := flag.String("thumbnail-root", "", "directory for extracted thumbnails")
	baseURL := flag.String("base-url", "", "fallback base URL for playback links when jobs omit one")
	concurrency := flag.Int("concurrency", 0, "number of jobs processed in parallel")
	encodeTimeout := flag.Duration("encode-timeout", 0, "timeout for a single rendition encode")
	cleanupOnFailure := flag.Bool("cleanup-on-failure", false, "remove partial output when a job fails")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMVAULT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx,
		firstNonEmpty(*storageDriver, os.Getenv("STREAMVAULT_STORAGE_DRIVER")),
		firstNonEmpty(*dataPath, os.Getenv("STREAMVAULT_DATA")),
		strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("STREAMVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))),
	)
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
		Consumer:   firstNonEmpty(*redisConsumer, os.Getenv("STREAMVAULT_QUEUE_REDIS_CONSUMER")),
		MasterName: firstNonEmpty(*redisMasterName, os.Getenv("STREAMVAULT_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*redisPoolSize, "STREAMVAULT_QUEUE_REDIS_POOL_SIZE"),
		Logger:     logging.WithComponent(logger, "queue"),
		TLS: queue.RedisTLSConfig{
			CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("STREAMVAULT_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "STREAMVAULT_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	jobQueue, err := configureQueue(firstNonEmpty(*queueDriver, os.Getenv("STREAMVAULT_QUEUE_DRIVER")), queueCfg)
	if err != nil {
		logger.Error("failed to configure transcoding queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.Warn("failed to close queue", "error", err)
		}
	}()

	encoder := &transcode.FFmpeg{
		FFmpegPath:    firstNonEmpty(*ffmpegPath, os.Getenv("STREAMVAULT_FFMPEG"), "ffmpeg"),
		FFprobePath:   firstNonEmpty(*ffprobePath, os.Getenv("STREAMVAULT_FFPROBE"), "ffprobe"),
		EncodeTimeout: resolveDuration(*encodeTimeout, "STREAMVAULT_ENCODE_TIMEOUT", 0),
	}
	layout := transcode.Layout{
		OutputRoot:    firstNonEmpty(*outputRoot, os.Getenv("STREAMVAULT_OUTPUT_ROOT"), "data/hls"),
		ThumbnailRoot: firstNonEmpty(*thumbnailRoot, os.Getenv("STREAMVAULT_THUMBNAIL_ROOT"), "data/thumbnails"),
		BaseURL:       firstNonEmpty(*baseURL, os.Getenv("STREAMVAULT_BASE_URL"), "http://localhost:8080"),
	}
	pipeline := &transcode.Pipeline{
		Store:            store,
		Encoder:          encoder,
		Layout:           layout,
		Profiles:         transcode.DefaultProfiles(),
		Logger:           logging.WithComponent(logger, "pipeline"),
		Metrics:          recorder,
		CleanupOnFailure: resolveBool(*cleanupOnFailure, "STREAMVAULT_CLEANUP_ON_FAILURE"),
	}
	worker := &transcode.Worker{
		Queue:       jobQueue,
		Runner:      pipeline,
		Concurrency: resolveInt(*concurrency, "STREAMVAULT_WORKER_CONCURRENCY"),
		Logger:      logging.WithComponent(logger, "worker"),
		Metrics:     recorder,
	}

	logger.Info("transcoding worker started",
		"output_root", layout.OutputRoot,
		"thumbnail_root", layout.ThumbnailRoot,
		"ffmpeg", encoder.FFmpegPath)
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func openStore(ctx context.Context, driver, dataPath, dsn string) (storage.Repository, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		if dataPath == "" {
			dataPath = "data/store.json"
		}
		return storage.NewStorage(dataPath)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		return storage.NewPostgresRepository(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func configureQueue(driver string, cfg queue.RedisQueueConfig) (queue.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the transcoding queue")
		}
		return queue.NewRedisQueue(cfg)
	case "memory":
		return queue.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
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
