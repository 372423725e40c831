// Command server starts the streaming backend: ingest and stats WebSocket
// gateways, the transcode pipeline, and the catalog API in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/ingest"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/logging"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/server"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/serverutil"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/stats"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	dataPath := flag.String("data", "", "path to the JSON catalog file")
	catalogDriver := flag.String("catalog-driver", "", "catalog driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	queueDriver := flag.String("queue-driver", "", "transcode queue driver (memory or redis)")
	seriesDriver := flag.String("series-driver", "", "stats series driver (memory or redis)")
	redisAddr := flag.String("redis-addr", "", "Redis address")
	redisAddrs := flag.String("redis-addrs", "", "comma separated Redis addresses")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisMasterName := flag.String("redis-sentinel-master", "", "Redis sentinel master name")
	redisPoolSize := flag.Int("redis-pool-size", 0, "maximum Redis connections")
	redisStream := flag.String("redis-stream", "", "Redis stream key for transcode jobs")
	redisGroup := flag.String("redis-group", "", "Redis consumer group for transcode jobs")
	rtmpURL := flag.String("rtmp-url", "", "RTMP publish base URL (e.g. rtmp://127.0.0.1:1935/live)")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	outputDir := flag.String("output-dir", "", "directory for processed video output")
	publicBaseURL := flag.String("public-base-url", "", "public URL prefix for processed videos")
	workers := flag.Int("workers", 0, "transcode worker count")
	jobTimeout := flag.Duration("job-timeout", 0, "per-job transcode timeout")
	statURL := flag.String("stat-url", "", "nginx-rtmp stat endpoint URL")
	statApp := flag.String("stat-application", "", "RTMP application to sample")
	statInterval := flag.Duration("stat-interval", 0, "stat polling interval")
	statRetention := flag.Duration("stat-retention", 0, "stat sample retention window")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed cross-domain access")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("GOLIVE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("GOLIVE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("GOLIVE_ADDR"), ":8080")

	redisCfg := redisSettings{
		Addr:       firstNonEmpty(*redisAddr, os.Getenv("GOLIVE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("GOLIVE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*redisUsername, os.Getenv("GOLIVE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*redisPassword, os.Getenv("GOLIVE_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*redisMasterName, os.Getenv("GOLIVE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*redisPoolSize, "GOLIVE_REDIS_POOL_SIZE"),
	}

	store, err := openCatalog(*catalogDriver, *dataPath, *postgresDSN)
	if err != nil {
		logger.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}

	queue, err := configureQueue(*queueDriver, redisCfg, *redisStream, *redisGroup, logger)
	if err != nil {
		logger.Error("failed to configure transcode queue", "error", err)
		os.Exit(1)
	}

	pipeline, err := transcode.NewPipeline(transcode.PipelineConfig{
		Queue:         queue,
		Catalog:       store,
		OutputDir:     firstNonEmpty(*outputDir, os.Getenv("GOLIVE_OUTPUT_DIR"), "data/videos"),
		PublicBaseURL: firstNonEmpty(*publicBaseURL, os.Getenv("GOLIVE_PUBLIC_BASE_URL"), "/videos"),
		FFmpegPath:    firstNonEmpty(*ffmpegPath, os.Getenv("GOLIVE_FFMPEG_PATH")),
		FFprobePath:   firstNonEmpty(*ffprobePath, os.Getenv("GOLIVE_FFPROBE_PATH")),
		Workers:       resolveInt(*workers, "GOLIVE_TRANSCODE_WORKERS"),
		JobTimeout:    resolveDuration(*jobTimeout, "GOLIVE_TRANSCODE_JOB_TIMEOUT", 0),
		Logger:        logging.WithComponent(logger, "transcode"),
		Metrics:       recorder,
	})
	if err != nil {
		logger.Error("failed to configure transcode pipeline", "error", err)
		os.Exit(1)
	}
	if err := pipeline.Start(); err != nil {
		logger.Error("failed to start transcode pipeline", "error", err)
		os.Exit(1)
	}

	ingestCfg, err := ingest.LoadConfigFromEnv()
	if flagRTMP := strings.TrimSpace(*rtmpURL); flagRTMP != "" {
		// The flag wins over the environment; defaults are filled by the
		// manager.
		ingestCfg.RTMPBaseURL = flagRTMP
		err = nil
	}
	if err != nil {
		logger.Error("failed to load ingest configuration", "error", err)
		os.Exit(1)
	}
	ingestManager, err := ingest.NewManager(ingestCfg, store, logging.WithComponent(logger, "ingest"), recorder)
	if err != nil {
		logger.Error("failed to configure ingest manager", "error", err)
		os.Exit(1)
	}

	series, err := configureSeries(*seriesDriver, redisCfg)
	if err != nil {
		logger.Error("failed to configure stats series", "error", err)
		os.Exit(1)
	}
	statEndpoint := firstNonEmpty(*statURL, os.Getenv("GOLIVE_STAT_URL"), "http://127.0.0.1:8081/stat")
	aggregator, err := stats.NewAggregator(stats.AggregatorConfig{
		Fetch:       stats.HTTPFetcher(statEndpoint, nil),
		Series:      series,
		Application: firstNonEmpty(*statApp, os.Getenv("GOLIVE_STAT_APPLICATION")),
		Interval:    resolveDuration(*statInterval, "GOLIVE_STAT_INTERVAL", 0),
		Retention:   resolveDuration(*statRetention, "GOLIVE_STAT_RETENTION", 0),
		Logger:      logging.WithComponent(logger, "stats"),
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to configure stats aggregator", "error", err)
		os.Exit(1)
	}
	if err := aggregator.Start(); err != nil {
		logger.Error("failed to start stats aggregator", "error", err)
		os.Exit(1)
	}

	handler := &server.Handler{
		Catalog:  store,
		Pipeline: pipeline,
		Logger:   logging.WithComponent(logger, "api"),
	}
	srv, err := server.New(handler, server.Gateways{
		Ingest: ingest.NewGateway(ingestManager, logging.WithComponent(logger, "ingest-gateway")),
		Stats:  stats.NewGateway(aggregator, logging.WithComponent(logger, "stats-gateway"), recorder),
	}, server.Config{
		Addr:    listenAddr,
		CORS:    server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("GOLIVE_CORS_ORIGINS")))},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server listening", "addr", listenAddr)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := serverutil.Run(runCtx, serverutil.Config{Server: srv.HTTPServer()}); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	aggregator.Stop()
	if err := ingestManager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop ingest sessions", "error", err)
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop transcode pipeline", "error", err)
	}
	if err := series.Close(); err != nil {
		logger.Warn("failed to close stats series", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close catalog", "error", err)
	}

	logger.Info("server stopped")
}

type redisSettings struct {
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	PoolSize   int
}

func openCatalog(flagDriver, flagData, flagDSN string) (catalog.Repository, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("GOLIVE_CATALOG_DRIVER")))
	dsn := firstNonEmpty(flagDSN, os.Getenv("GOLIVE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		dataFile := firstNonEmpty(flagData, os.Getenv("GOLIVE_DATA"), "data/catalog.json")
		return catalog.NewJSONStore(dataFile)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres catalog selected without DSN")
		}
		return catalog.NewPostgresStore(context.Background(), dsn)
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}
}

func configureQueue(flagDriver string, redisCfg redisSettings, stream, group string, logger *slog.Logger) (transcode.Queue, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("GOLIVE_QUEUE_DRIVER")))
	switch driver {
	case "redis":
		if len(redisCfg.Addrs) == 0 && redisCfg.Addr == "" {
			return nil, fmt.Errorf("redis addr is required for the transcode queue")
		}
		return transcode.NewRedisQueue(transcode.RedisQueueConfig{
			Addr:       redisCfg.Addr,
			Addrs:      redisCfg.Addrs,
			Username:   redisCfg.Username,
			Password:   redisCfg.Password,
			MasterName: redisCfg.MasterName,
			PoolSize:   redisCfg.PoolSize,
			Stream:     firstNonEmpty(stream, os.Getenv("GOLIVE_REDIS_STREAM")),
			Group:      firstNonEmpty(group, os.Getenv("GOLIVE_REDIS_GROUP")),
			Logger:     logging.WithComponent(logger, "transcode-queue"),
		})
	case "", "memory":
		return transcode.NewMemoryQueue(0), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
}

func configureSeries(flagDriver string, redisCfg redisSettings) (stats.Series, error) {
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("GOLIVE_SERIES_DRIVER")))
	switch driver {
	case "redis":
		return stats.NewRedisSeries(stats.RedisSeriesConfig{
			Addr:       redisCfg.Addr,
			Addrs:      redisCfg.Addrs,
			Username:   redisCfg.Username,
			Password:   redisCfg.Password,
			MasterName: redisCfg.MasterName,
			PoolSize:   redisCfg.PoolSize,
		})
	case "", "memory":
		return stats.NewMemorySeries(), nil
	default:
		return nil, fmt.Errorf("unsupported series driver %q", driver)
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
