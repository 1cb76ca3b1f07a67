package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kitilash/altegiobot/internal/auth"
	"github.com/kitilash/altegiobot/internal/config"
	"github.com/kitilash/altegiobot/internal/http/handlers"
	"github.com/kitilash/altegiobot/internal/http/middlewares"
	"github.com/kitilash/altegiobot/internal/ingress"
	"github.com/kitilash/altegiobot/internal/observability"
	"github.com/kitilash/altegiobot/internal/repo/postgres"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func NewRouter(cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, prom *observability.Prom, reg *prometheus.Registry) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(middlewares.MaxBodyBytes(maxWebhookBody))
	if prom != nil {
		r.Use(prom.Middleware())
	}
	r.Use(otelgin.Middleware(cfg.AppName))

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/health", h.Health)
	r.GET("/readyz", h.Readyz)

	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	// wire up the store and ingress
	store := postgres.NewStore(pool, prom)
	ingestor := ingress.New(store, cfg.AltegioWebhookSecret, log)

	webhookLimiter := middlewares.NewRateLimiter(120, time.Minute)

	altegio := handlers.NewAltegioWebhookHandler(ingestor, cfg.AltegioWebhookSecret)
	r.POST("/webhooks/altegio",
		webhookLimiter.RateLimiterMiddleware(middlewares.KeyByIP),
		altegio.Handle,
	)

	whatsapp := handlers.NewWhatsAppWebhookHandler(ingestor, store, cfg.WhatsAppWebhookVerifyToken)
	r.GET("/webhook/whatsapp", whatsapp.Verify)
	r.POST("/webhook/whatsapp",
		webhookLimiter.RateLimiterMiddleware(middlewares.KeyByIP),
		whatsapp.Receive,
	)

	// operator API, only exposed when a secret is configured
	if cfg.AdminJWTSecret != "" {
		jwtMgr := auth.NewManager(cfg.AdminJWTSecret)
		authMw := middlewares.NewAuthMiddleware(jwtMgr)

		adminJobs := handlers.NewAdminJobsHandler(store, nil)
		adminConfig := handlers.NewAdminConfigHandler(store)

		admin := r.Group("/admin", authMw.RequireAuth())
		admin.GET("/jobs", adminJobs.List)
		admin.POST("/jobs/:id/retry", adminJobs.Retry)
		admin.POST("/jobs/retry-failed", adminJobs.RetryFailed)
		admin.PUT("/senders", adminConfig.UpsertSender)
		admin.PUT("/rules", adminConfig.UpsertRule)
		admin.PUT("/templates", adminConfig.UpsertTemplate)
	}

	return r
}
