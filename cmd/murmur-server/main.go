package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/api"
	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/auth"
	"github.com/platinummonkey/murmur/pkg/config"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/moderation"
	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
	"github.com/platinummonkey/murmur/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("murmur server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Database.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
	}

	// Permissions
	var (
		profiles permissions.ProfileStore
		posts    permissions.PostStore
	)
	if db != nil {
		store := permissions.NewPostgresStore(db)
		profiles, posts = store, store
	} else {
		logger.Warn("No database configured, using in-memory profile and post stores")
		store := permissions.NewMemoryStore()
		profiles, posts = store, store
	}

	cache := permissions.NewPermissionCache(cfg.Cache.PermissionTTL,
		permissions.WithCacheLogger(logger), permissions.WithCacheMetrics(metrics))
	if err := cache.StartCleanup(cfg.Cache.SweepSchedule); err != nil {
		return err
	}

	permOpts := []permissions.Option{
		permissions.WithLogger(logger),
		permissions.WithMetrics(metrics),
		permissions.WithTTLs(cfg.Cache.PermissionTTL, cfg.Cache.PremiumStatusTTL),
	}
	if redisClient != nil {
		permOpts = append(permOpts, permissions.WithSharedCache(permissions.NewRedisSharedCache(redisClient)))
	}
	permSvc := permissions.NewService(profiles, posts, cache, permOpts...)
	reflections := permissions.NewReflectionChecker(permSvc)

	// Audit
	var endpoints []webhooks.Endpoint
	for _, u := range cfg.Audit.AlertWebhookURLs {
		endpoints = append(endpoints, webhooks.Endpoint{URL: u, Secret: cfg.Audit.AlertWebhookSecret})
	}
	notifier := webhooks.NewNotifier(endpoints, webhooks.WithLogger(logger), webhooks.WithMetrics(metrics))

	var auditStore audit.Store = audit.NewMemoryStore()
	if db != nil {
		pgStore, err := audit.NewPostgresStore(db)
		if err != nil {
			return err
		}
		auditStore = pgStore
	}
	auditSvc := audit.NewService(auditStore, audit.DetectorConfig{
		Window:                cfg.Audit.Window,
		DenialThreshold:       cfg.Audit.DenialThreshold,
		PremiumProbeThreshold: cfg.Audit.PremiumProbeThreshold,
	}, audit.WithLogger(logger), audit.WithMetrics(metrics), audit.WithFallbackCapacity(cfg.Audit.FallbackCapacity),
		audit.WithAlertHook(notifier.NotifyAlert))

	// Moderation
	rules := moderation.DefaultRuleSet()
	if cfg.Moderation.RulesFile != "" {
		if rules, err = moderation.LoadRuleSet(cfg.Moderation.RulesFile); err != nil {
			return err
		}
	}
	checker := moderation.NewChecker(rules, logger)
	if cfg.Moderation.RulesFile != "" {
		if err := moderation.WatchRules(ctx, cfg.Moderation.RulesFile, checker, logger); err != nil {
			return err
		}
	}
	router := moderation.NewRouter(permSvc, checker, logger, moderation.WithRouterMetrics(metrics))
	moderationSvc := moderation.NewService(router, checker, nil, logger)

	// Authentication. Config validation guarantees one of the two is enabled.
	var authn auth.Authenticator
	if cfg.Auth.OIDCIssuer != "" {
		oidcAuthn, err := auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
		if err != nil {
			return err
		}
		authn = oidcAuthn
	} else if cfg.Auth.AllowHeaderAuth {
		logger.Warn("MURMUR_ALLOW_HEADER_AUTH is set, trusting the X-User-ID header")
		authn = auth.NewHeaderAuthenticator("")
	} else {
		return fmt.Errorf("no authenticator configured")
	}

	mw := middleware.NewPermissionMiddleware(authn, permSvc, reflections, auditSvc, middleware.WithLogger(logger))

	health := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion)
	health.AddCheck("audit_fallback", false, auditSvc.FallbackHealth)
	deps := api.Deps{
		Permissions:   permSvc,
		Reflections:   reflections,
		Connections:   permissions.NewConnectionManager(permSvc),
		PostFilter:    permissions.NewPostFilter(permSvc),
		Middleware:    mw,
		Moderation:    moderationSvc,
		Audit:         auditSvc,
		Health:        health,
		Metrics:       metrics,
		Logger:        logger,
		AdminUserIDs:  cfg.Auth.AdminUserIDs,
		WebhookSecret: cfg.Auth.WebhookSecret,
	}
	if len(endpoints) > 0 {
		deps.Notifier = notifier
	}
	if cfg.Observability.MetricsEnabled {
		deps.Registry = registry
	}
	server := api.NewServer(deps)

	// Background jobs
	jobs := cron.New()
	if _, err := jobs.AddFunc(cfg.Audit.ReplaySchedule, func() {
		if n, err := auditSvc.ReplayFallback(ctx); err != nil {
			logger.WithError(err).WithField("replayed", n).Warn("Audit fallback replay incomplete")
		} else if n > 0 {
			logger.WithField("replayed", n).Info("Replayed buffered audit entries")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule audit replay: %w", err)
	}
	if cfg.Audit.RetentionDays > 0 {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if _, err := jobs.AddFunc(cfg.Audit.RetentionSchedule, func() {
			if n, err := auditSvc.Cleanup(ctx, retention); err != nil {
				logger.WithError(err).Error("Audit retention cleanup failed")
			} else {
				logger.WithField("deleted", n).Info("Audit retention cleanup completed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule audit retention: %w", err)
		}
	}
	jobs.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.Register("background jobs", func(ctx context.Context) error {
		<-jobs.Stop().Done()
		cache.Stop()
		return nil
	})
	shutdown.Register("audit writes", mw.Flush)
	shutdown.Register("alert deliveries", notifier.Flush)
	shutdown.Register("audit fallback replay", func(ctx context.Context) error {
		_, err := auditSvc.ReplayFallback(ctx)
		return err
	})
	if tp != nil {
		shutdown.Register("tracing", tp.Shutdown)
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if db != nil {
		shutdown.Register("database", func(context.Context) error { return db.Close() })
	}

	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", srv.Addr).Fatal("HTTP server failed")
			}
		}()
	}

	return shutdown.WaitForShutdown()
}

// openDatabase returns nil when no database URL is configured
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
