// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bissquit/hazard-watch/internal/config"
	"github.com/bissquit/hazard-watch/internal/incidents"
	"github.com/bissquit/hazard-watch/internal/incidents/cache"
	"github.com/bissquit/hazard-watch/internal/incidents/filestore"
	incidentspostgres "github.com/bissquit/hazard-watch/internal/incidents/postgres"
	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
	"github.com/bissquit/hazard-watch/internal/pkg/httputil"
	"github.com/bissquit/hazard-watch/internal/pkg/metrics"
	"github.com/bissquit/hazard-watch/internal/pkg/postgres"
	redisutil "github.com/bissquit/hazard-watch/internal/pkg/redis"
	"github.com/bissquit/hazard-watch/internal/proximity"
	"github.com/bissquit/hazard-watch/internal/proximity/kafka"
	"github.com/bissquit/hazard-watch/internal/proximity/webhook"
	"github.com/bissquit/hazard-watch/internal/version"
	"github.com/bissquit/hazard-watch/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *goredis.Client
	repo          incidents.Repository
	registry      *proximity.Registry
	dispatcher    *proximity.Dispatcher
	monitor       *proximity.Monitor
	publisher     *kafka.Publisher
	consumer      *kafka.PositionConsumer
	server        *http.Server
	metricsServer *http.Server
	cancel        context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config: cfg,
		logger: logger,
		cancel: cancel,
	}

	if err := app.setupStorage(ctx); err != nil {
		app.close()
		return nil, err
	}

	router, err := app.setupRouter(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.config

	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.repo = incidentspostgres.NewRepository(db)

	default:
		store, err := filestore.New(cfg.Storage.FilePath)
		if err != nil {
			return fmt.Errorf("open incident file: %w", err)
		}
		a.repo = store
		slog.Info("using file incident store", "path", store.Path())
	}

	if cfg.Redis.Enabled {
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		defer connectCancel()

		client, err := redisutil.Connect(connectCtx, redisutil.Config{URL: cfg.Redis.URL})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
	}

	if a.db != nil || a.redis != nil {
		go a.collectPoolMetrics(ctx)
	}

	return nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var g errgroup.Group
	g.Go(func() error {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})

	var errs []error
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// close stops background workers and releases connections.
func (a *App) close() error {
	var errs []error

	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop position consumer: %w", err))
		}
	}
	if a.registry != nil {
		a.registry.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	// Queued alerts go out before the publisher closes.
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	a.cancel()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close alert publisher: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	record := func() {
		if a.db != nil {
			metrics.RecordPostgresPool(a.db)
		}
		if a.redis != nil {
			metrics.RecordRedisPool(a.redis)
		}
	}
	record()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Registry returns the proximity session registry.
func (a *App) Registry() *proximity.Registry {
	return a.registry
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	specPath := a.config.Server.OpenAPISpecPath
	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, specPath)
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>HazardWatch API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	// The proximity engine reads through the cache when one is configured;
	// the incident service drops it after every mutation.
	var (
		lister    proximity.IncidentLister = a.repo
		listCache incidents.Cache
	)
	if a.redis != nil {
		cached := cache.NewLister(a.redis, a.repo, a.config.Redis.CacheTTL)
		lister = cached
		listCache = cached
	}

	incidentService := incidents.NewService(a.repo, listCache)
	incidentHandler := incidents.NewHandler(incidentService)

	sink, err := a.setupAlertSink()
	if err != nil {
		return nil, err
	}

	pc := a.config.Proximity
	a.dispatcher = proximity.NewDispatcher(proximity.DispatcherConfig{
		QueueSize:  pc.AlertQueueSize,
		NumWorkers: pc.AlertWorkers,
	}, sink)
	a.dispatcher.Start(ctx)

	a.registry = proximity.NewRegistry(proximity.RegistryConfig{
		AlertRadiusKm:   pc.AlertRadiusKm,
		SessionTTL:      pc.SessionTTL,
		JanitorInterval: pc.JanitorInterval,
	}, lister, a.dispatcher)
	a.registry.Start(ctx)

	if w := pc.Watch; w.ID != "" {
		a.monitor = proximity.NewMonitor(proximity.MonitorConfig{
			SessionID:       w.ID,
			AlertRadiusKm:   pc.AlertRadiusKm,
			RefreshInterval: w.RefreshInterval,
		}, lister, proximity.FixedPosition(proximity.Position{Lat: w.Latitude, Lon: w.Longitude}), a.dispatcher)
		a.monitor.Start(ctx)
	}

	if pc.Kafka.Enabled {
		if pc.Kafka.CreateTopics {
			topicsCtx, topicsCancel := context.WithTimeout(ctx, 10*time.Second)
			err := kafka.EnsureTopics(topicsCtx, kafkaConfig(pc.Kafka), pc.Kafka.Partitions, pc.Kafka.ReplicationFactor)
			topicsCancel()
			if err != nil {
				return nil, fmt.Errorf("create kafka topics: %w", err)
			}
		}
		a.consumer = kafka.NewPositionConsumer(kafkaConfig(pc.Kafka), a.registry)
		a.consumer.Start(ctx)
	}

	proximityHandler := proximity.NewHandler(a.registry)

	var createMiddlewares []func(http.Handler) http.Handler
	if a.config.RateLimit.Enabled {
		limiter := httputil.NewRateLimiter(httputil.RateLimitConfig{
			RequestsPerSecond: a.config.RateLimit.RequestsPerSecond,
			Burst:             a.config.RateLimit.Burst,
			VisitorTTL:        a.config.RateLimit.VisitorTTL,
		})
		go limiter.Run(ctx)
		createMiddlewares = append(createMiddlewares, limiter.Middleware)
	}

	incidentHandler.RegisterRoutes(r, createMiddlewares...)
	proximityHandler.RegisterRoutes(r)

	return r, nil
}

func (a *App) setupAlertSink() (proximity.AlertSink, error) {
	pc := a.config.Proximity
	sinks := []proximity.AlertSink{proximity.NewLogSink(a.logger)}

	if pc.Webhook.URL != "" {
		sinks = append(sinks, webhook.NewSender(webhook.Config{
			URL:         pc.Webhook.URL,
			Timeout:     pc.Webhook.Timeout,
			MaxAttempts: pc.Webhook.MaxAttempts,
		}))
	}

	if pc.Kafka.Enabled {
		if len(pc.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka enabled without brokers")
		}
		a.publisher = kafka.NewPublisher(kafkaConfig(pc.Kafka))
		sinks = append(sinks, a.publisher)
	}

	slog.Info("proximity alerts configured",
		"radius_km", pc.AlertRadiusKm,
		"webhook_enabled", pc.Webhook.URL != "",
		"kafka_enabled", pc.Kafka.Enabled,
	)

	return proximity.NewMultiSink(sinks...), nil
}

func kafkaConfig(cfg config.KafkaConfig) kafka.Config {
	return kafka.Config{
		Brokers:        cfg.Brokers,
		AlertsTopic:    cfg.AlertsTopic,
		PositionsTopic: cfg.PositionsTopic,
		GroupID:        cfg.GroupID,
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.repo.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
