package main

import (
	"context"
	"fmt"
	"os"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/circuitbreaker"
	infraconfig "github.com/jonesrussell/north-cloud/discovery/infrastructure/config"
	infraes "github.com/jonesrussell/north-cloud/discovery/infrastructure/elasticsearch"
	infragin "github.com/jonesrussell/north-cloud/discovery/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	inframetrics "github.com/jonesrussell/north-cloud/discovery/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/discovery/infrastructure/profiling"
	infraredis "github.com/jonesrussell/north-cloud/discovery/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/discovery/internal/access"
	"github.com/jonesrussell/north-cloud/discovery/internal/api"
	"github.com/jonesrussell/north-cloud/discovery/internal/config"
	"github.com/jonesrussell/north-cloud/discovery/internal/database"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/elasticsearch"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
	"github.com/jonesrussell/north-cloud/discovery/internal/metrics"
	"github.com/jonesrussell/north-cloud/discovery/internal/validity"
)

const startupTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger
	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	// Start profiling (if enabled)
	if pprofServer := profiling.StartPprofServer(cfg.Profiling, log); pprofServer != nil {
		defer func() { _ = pprofServer.Close() }()
	}
	pyroProfiler, err := profiling.StartPyroscope(cfg.Profiling, cfg.Service.Name, cfg.Service.Version, log)
	if err != nil {
		log.Warn("Pyroscope failed to start", infralogger.Error(err))
	}
	defer func() { _ = pyroProfiler.Stop() }()

	log.Info("Starting discovery service",
		infralogger.String("name", cfg.Service.Name),
		infralogger.String("version", cfg.Service.Version),
		infralogger.Int("port", cfg.Service.Port),
		infralogger.Bool("debug", cfg.Service.Debug),
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	esClient, err := infraes.NewClient(ctx, cfg.Elasticsearch.Config, log)
	if err != nil {
		log.Error("Failed to create Elasticsearch client", infralogger.Error(err))
		return 1
	}

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", infralogger.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()

	redisClient := setupRedis(ctx, cfg, log)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	return runServer(cfg, esClient, db, redisClient, log)
}

// loadConfig loads configuration from config file.
func loadConfig() (*config.Config, error) {
	configPath := infraconfig.GetConfigPath("config.yml")
	return config.Load(configPath)
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (infralogger.Logger, error) {
	log, err := infralogger.New(infralogger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		return nil, err
	}
	return log.With(infralogger.String("service", "discovery")), nil
}

// setupRedis connects the shared artifact cache. The service runs without it
// when Redis is disabled or unreachable.
func setupRedis(ctx context.Context, cfg *config.Config, log infralogger.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := infraredis.NewClient(ctx, infraredis.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, feed artifacts stay in memory", infralogger.Error(err))
		return nil
	}
	log.Info("Connected to Redis", infralogger.String("address", cfg.Redis.Address))
	return client
}

// runServer wires the services and runs the HTTP server until shutdown.
func runServer(
	cfg *config.Config,
	esClient *es.Client,
	db *sqlx.DB,
	redisClient *redis.Client,
	log infralogger.Logger,
) int {
	m := metrics.New()
	httpMetrics := inframetrics.NewHTTPMetrics(m.Registry(), metrics.MetricsNamespace)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.Elasticsearch.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Elasticsearch.Breaker.SuccessThreshold,
		Timeout:          cfg.Elasticsearch.Breaker.Timeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			log.Warn("Search circuit breaker changed state",
				infralogger.String("from", from.String()),
				infralogger.String("to", to.String()),
			)
		},
	})
	executor := elasticsearch.NewExecutor(esClient, elasticsearch.Config{
		Index:           cfg.Elasticsearch.Index,
		Timeout:         cfg.Elasticsearch.SearchTimeout,
		SpellCheckField: cfg.Elasticsearch.SpellCheckField,
	}, breaker, m, log)

	repo := database.NewRepository(db)
	filter := access.NewFilter(repo, cfg.Feed.IncludeRestricted, access.WithRecorder(m))
	builder := discovery.NewBuilder(discovery.IndexSortFields{}, discovery.WithLogger(log))

	store, err := validity.NewStore(cfg.Feed.CacheSize)
	if err != nil {
		log.Error("Failed to create token store", infralogger.Error(err))
		return 1
	}

	var artifacts validity.ArtifactStore
	var redisStore *validity.RedisArtifactStore
	if redisClient != nil {
		redisStore = validity.NewRedisArtifactStore(redisClient, validity.TTLFromHours(cfg.Feed.CacheTTLHours), cfg.Redis.Retention)
		artifacts = redisStore
	}

	feeds := feed.NewService(cfg.Feed, feed.Deps{
		Builder:   builder,
		Discovery: cfg.Discovery,
		Searcher:  executor,
		Scopes:    repo,
		Filter:    filter,
		Store:     store,
		Artifacts: artifacts,
		Recorder:  m,
		Logger:    log,
	})

	handler := api.NewHandler(api.Deps{
		Builder:   builder,
		Discovery: cfg.Discovery,
		Searcher:  executor,
		Filter:    filter,
		Feeds:     feeds,
		Logger:    log,
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set, cache admin routes disabled")
	}

	builderSrv := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORS(infragin.CORSConfig{
			Enabled:          cfg.CORS.Enabled,
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}).
		WithHealthCheck("elasticsearch", infragin.PingChecker(executor.Ping, false)).
		WithHealthCheck("database", infragin.PingChecker(repo.Ping, false)).
		WithMetrics(m.Handler()).
		WithRoutes(func(router *gin.Engine) {
			// Registered after /health and /metrics, so probes are not counted.
			router.Use(httpMetrics.Middleware())
			api.SetupRoutes(router, handler, cfg.Auth.JWTSecret)
		})
	if redisStore != nil {
		builderSrv = builderSrv.WithHealthCheck("redis", infragin.PingChecker(redisStore.Ping, true))
	}

	server := builderSrv.Build()

	log.Info("Discovery service starting",
		infralogger.Int("port", cfg.Service.Port),
		infralogger.String("index", cfg.Elasticsearch.Index),
		infralogger.Bool("shared_cache", artifacts != nil),
	)

	if runErr := server.Run(); runErr != nil {
		log.Error("Server error", infralogger.Error(runErr))
		return 1
	}

	log.Info("Discovery service exited cleanly")
	return 0
}
