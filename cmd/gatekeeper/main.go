// gatekeeper is a multi-tenant access-control backend: role-based
// permission resolution over a Redis read-through cache, adaptive
// rate limiting, and signed webhook delivery with retries.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/cache"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/ratelimit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Logging.Level), os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := rbac.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store, err := cache.New(cfg.Cache, logger, metrics)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer store.Close()

	// RBAC
	directory := rbac.NewSQLDirectory(db)
	resolver := rbac.NewResolver(directory, store, rbac.DefaultPermissionTTL, logger, metrics)
	rbacHandlers := rbac.NewHandlers(directory, resolver, logger)

	// Rate limiting
	breaker := ratelimit.NewCircuitBreaker(cfg.RateLimit.BreakerFailureThreshold, cfg.RateLimit.BreakerResetTimeout)
	limiter := ratelimit.NewLimiter(store, nil, breaker, logger, metrics)
	limiter.RefreshLoadFactor(ctx)
	rateLimitMW := ratelimit.NewMiddleware(limiter, func(r *http.Request) (string, bool) {
		id, ok := rbac.PrincipalFromContext(r.Context())
		if !ok {
			return "", false
		}
		return strconv.FormatInt(id, 10), true
	})

	// Webhooks
	pool := async.NewWorkerPool(ctx, cfg.Webhooks.Workers, "webhook_delivery", 0, logger)
	webhookStore := webhooks.NewMemoryStore()
	engine := webhooks.NewEngine(webhookStore, nil, pool, nil, logger, metrics)
	broadcaster := webhooks.NewBroadcaster(webhookStore, engine, logger)
	webhookHandlers := webhooks.NewHandlers(webhookStore, engine, broadcaster, logger)

	// Maintenance jobs
	jobs := cron.New()
	if _, err := jobs.AddFunc("@every 1m", func() {
		limiter.RefreshLoadFactor(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling load factor refresh: %w", err)
	}
	if _, err := jobs.AddFunc("@hourly", func() {
		cutoff := time.Now().UTC().Add(-cfg.Webhooks.LogRetention)
		pruned, err := webhookStore.PruneLogs(context.Background(), cutoff)
		if err != nil {
			logger.WithError(err).Warn("webhook log pruning failed")
			return
		}
		if pruned > 0 {
			logger.WithField("pruned", pruned).Info("pruned webhook logs")
		}
	}); err != nil {
		return fmt.Errorf("scheduling log pruning: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	if cfg.RateLimit.Enabled {
		api.Use(rateLimitMW.Handler)
	}
	rbacHandlers.RegisterRoutes(api)
	webhookHandlers.RegisterRoutes(api)
	api.HandleFunc("/ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, limiter.Stats(r.Context()))
	}).Methods("GET")

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	health := mux.NewRouter()
	health.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "cache unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	health.Handle("/metrics", observability.Handler(registry))

	healthServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HealthPort),
		Handler: health,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		// Let in-flight delivery chains finish before the process exits
		if err := engine.Drain(cfg.Webhooks.DrainTimeout); err != nil {
			logger.WithError(err).Warn("webhook drain incomplete")
		}
		return nil
	})

	return g.Wait()
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
