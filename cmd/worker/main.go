package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitilash/altegiobot/internal/altegio"
	"github.com/kitilash/altegiobot/internal/cache"
	"github.com/kitilash/altegiobot/internal/clock"
	"github.com/kitilash/altegiobot/internal/config"
	"github.com/kitilash/altegiobot/internal/db"
	"github.com/kitilash/altegiobot/internal/observability"
	"github.com/kitilash/altegiobot/internal/outbox"
	"github.com/kitilash/altegiobot/internal/planner"
	"github.com/kitilash/altegiobot/internal/provider"
	"github.com/kitilash/altegiobot/internal/reconciler"
	"github.com/kitilash/altegiobot/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	shutdownTracer, err := observability.InitTracer(bootCtx, cfg.AppName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(bootCtx, pool); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		log.Error("invalid business timezone", "tz", cfg.BusinessTimezone, "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	clk := clock.System()

	store := postgres.NewStore(pool, prom)

	// inbox side
	var planFilter reconciler.PlanFilter
	if len(cfg.PlanAllowedCategoryIDs) > 0 {
		api := altegio.New(altegio.Config{
			BaseURL:      cfg.AltegioAPIBaseURL,
			Accept:       cfg.AltegioAPIAccept,
			PartnerToken: cfg.AltegioPartnerToken,
			UserToken:    cfg.AltegioUserToken,
		})
		planFilter = altegio.CategoryFilter(api, cfg.PlanAllowedCategoryIDs, time.Hour)
	}

	rec := reconciler.New(reconciler.Config{
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: cfg.WorkerPollInterval,
	}, store, planner.New(clk), planFilter, loc, clk, log)

	// outbox side
	var senderCache cache.StringCache
	if cfg.RedisAddr != "" {
		redis := cache.NewRedis(cfg.RedisAddr, 5*time.Minute)
		if err := redis.Ping(bootCtx); err != nil {
			log.Error("redis unreachable", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer redis.Close()
		senderCache = redis
	} else {
		senderCache = cache.NewMemory(5 * time.Minute)
	}

	prov := provider.New(cfg, store, senderCache, log)
	renderer := outbox.NewRenderer(loc, cfg.UnsubscribeLinkBase)
	metrics := observability.NewJobMetrics()

	worker := outbox.NewWorker(outbox.Config{
		BatchSize:          cfg.WorkerBatchSize,
		PollInterval:       cfg.WorkerPollInterval,
		StopOnTokenExpired: cfg.StopWorkerOnTokenExpired,
	}, store, renderer, prov, provider.IsTokenExpired, provider.IsSendBlocked, clk, log, metrics, prom)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		_ = rec.Run(ctx)
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = worker.Run(ctx)
	}()

	srv := healthServer(cfg, pool, worker, reg)
	go func() {
		log.Info("worker health server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-workerDone:
		// token-expired stop: exit so the scheduler restarts us with a
		// fresh token
		cancel()
	}

	log.Info("worker shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("health server shutdown failed", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
}

func healthServer(cfg config.Config, pool *pgxpool.Pool, worker *outbox.Worker, reg *prometheus.Registry) *http.Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		snap := worker.Metrics()
		c.JSON(http.StatusOK, gin.H{
			"ok":            true,
			"token_expired": worker.TokenExpired(),
			"jobs": gin.H{
				"leased":       snap.Leased,
				"done":         snap.Done,
				"failed":       snap.Failed,
				"retried":      snap.Retried,
				"canceled":     snap.Canceled,
				"rate_limited": snap.RateLimited,
				"avg_ms":       snap.AverageDuration.Milliseconds(),
				"max_ms":       snap.MaxDuration.Milliseconds(),
			},
		})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancelPing := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancelPing()
		if err := pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
