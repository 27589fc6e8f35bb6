// Command jobcore-manager is the process entrypoint (C10): it loads configuration, wires the
// cache/metadata/executor/auth adapters and the job-type registry into a service.Manager, and
// runs the control loop until signaled to stop.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/tracorch/jobcore/config"
	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/data/k8sexecutor"
	"github.com/tracorch/jobcore/internal/data/memcache"
	"github.com/tracorch/jobcore/internal/data/pgmetadata"
	"github.com/tracorch/jobcore/internal/data/rediscache"
	"github.com/tracorch/jobcore/internal/domain/auth"
	"github.com/tracorch/jobcore/internal/domain/jobtype"
	"github.com/tracorch/jobcore/internal/observability/statsd"
	"github.com/tracorch/jobcore/internal/service"
)

func main() {
	ctx := context.Background()
	logger := initLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1)
	}
}

func initLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting jobcore manager",
		"cacheBackend", cfg.Cache.Backend,
		"metadataHost", cfg.Metadata.Host,
		"executorNamespace", cfg.Executor.Namespace,
		"maxConcurrentJobs", cfg.Manager.MaxConcurrentJobs,
	)

	db, err := connectMetadataDB(ctx, cfg.Metadata, logger)
	if err != nil {
		return fmt.Errorf("connect metadata database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metadata database failed", "error", cerr)
		}
	}()

	cache, cacheCloser, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build job cache: %w", err)
	}
	if cacheCloser != nil {
		defer func() {
			if cerr := cacheCloser(); cerr != nil {
				logger.ErrorContext(ctx, "close job cache failed", "error", cerr)
			}
		}()
	}

	executor, err := buildExecutor(cfg.Executor)
	if err != nil {
		return fmt.Errorf("build executor client: %w", err)
	}

	rebinder, err := buildRebinder(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("build credential rebinder: %w", err)
	}

	metrics, err := buildMetricsSink(cfg.Observability.Metrics, logger)
	if err != nil {
		return fmt.Errorf("build metrics sink: %w", err)
	}

	registry := jobtype.NewRegistry(jobtype.DefaultEvaluator)
	processor := service.NewJobProcessor(pgmetadata.New(db), executor, registry, rebinder, logger)
	manager := service.NewManager(cache, executor, processor, cfg.Manager, logger, metrics)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run manager: %w", err)
	}
	logger.InfoContext(ctx, "jobcore manager stopped")
	return nil
}

// connectMetadataDB opens and verifies the PostgreSQL connection backing pgmetadata, the same
// open-then-configure-pool-then-ping shape the teacher uses for its own Postgres connection.
func connectMetadataDB(ctx context.Context, cfg config.MetadataConfig, logger *slog.Logger) (*sql.DB, error) {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("ping database: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.InfoContext(ctx, "metadata database connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	return db, nil
}

// buildCache selects between the in-process and Redis-backed core.JobCache implementations
// (config.CacheConfig.Backend), returning an optional closer for the backend's connection.
func buildCache(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (core.JobCache, func() error, error) {
	if cfg.Cache.Backend == "memory" {
		logger.InfoContext(ctx, "using in-process job cache", "reason", "CACHE_BACKEND=memory")
		return memcache.New(nil), nil, nil
	}

	opts := &redis.Options{
		Addr:     cfg.Cache.Redis.URI,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	}
	var client redis.UniversalClient
	switch {
	case cfg.Cache.Redis.UseCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Cache.Redis.ClusterNodes,
			Password: cfg.Cache.Redis.Password,
		})
	case cfg.Cache.Redis.UseSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.Cache.Redis.SentinelMasterName,
			SentinelAddrs:    cfg.Cache.Redis.SentinelNodes,
			Password:         cfg.Cache.Redis.Password,
			SentinelPassword: cfg.Cache.Redis.SentinelPassword,
			DB:               cfg.Cache.Redis.DB,
		})
	default:
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", errors.Join(err, fmt.Errorf("close redis client: %w", cerr)))
		}
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.InfoContext(ctx, "job cache connected to redis", "keyPrefix", cfg.Cache.KeyPrefix)
	return rediscache.New(client, cfg.Cache.KeyPrefix), client.Close, nil
}

// buildExecutor constructs the Kubernetes-backed core.ExecutorClient, preferring in-cluster
// config (the deployed shape) and falling back to a kubeconfig file (local development).
func buildExecutor(cfg config.ExecutorConfig) (core.ExecutorClient, error) {
	restCfg, err := kubernetesRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	restCfg.Timeout = cfg.RequestTimeout

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}

	return k8sexecutor.New(clientset, cfg.Namespace, cfg.JobImage, cfg.ServiceAccount, cfg.TTLSecondsAfterFinished, cfg.BackoffLimit), nil
}

func kubernetesRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("build kubeconfig %q: %w", kubeconfig, err)
		}
		return restCfg, nil
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("in-cluster kubernetes config: %w", err)
	}
	return restCfg, nil
}

// buildRebinder chooses an OIDC-verifying rebinder when an issuer is configured, and a
// passthrough rebinder otherwise (local development / single-replica deployments).
func buildRebinder(ctx context.Context, cfg config.AuthConfig) (core.CredentialRebinder, error) {
	if cfg.DiscoveryURL == "" {
		return auth.PassthroughRebinder{}, nil
	}
	return auth.NewOIDCRebinder(ctx, cfg)
}

func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (statsd.Sink, error) {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  "jobcore",
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
