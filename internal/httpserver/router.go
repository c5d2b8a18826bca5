package httpserver

import (
	"context"
	"time"

	"milestone-reconciler/internal/auth"
	"milestone-reconciler/internal/handler"
	"milestone-reconciler/pkg/otel"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is satisfied by *mq.Consumer.
type ConnectionChecker interface {
	IsConnected() bool
}

type Handlers struct {
	Webhook   *handler.WebhookHandler
	Recompute *handler.RecomputeHandler
	Scheduler *handler.SchedulerHandler
}

type Credentials struct {
	WebhookSecret auth.SharedSecret
	CronSecret    auth.SharedSecret
	Tokens        *auth.TokenVerifier
	Limiter       auth.AttemptLimiter
}

type Dependencies struct {
	DB       Pinger
	Consumer ConnectionChecker
}

func NewRouter(h Handlers, creds Credentials, deps Dependencies, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}

		if deps.Consumer != nil && !deps.Consumer.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guard := NewGuard(creds.Limiter, logger)

	r.GET("/webhooks/tasks", h.Webhook.Describe)
	r.POST("/webhooks/tasks", guard.RequireSecret("webhook", creds.WebhookSecret), h.Webhook.HandleTaskEvent)

	r.POST("/milestones/recompute", guard.RequireSecretOrToken("recompute", creds.CronSecret, creds.Tokens), h.Recompute.Recompute)

	r.GET("/scheduler/status", guard.RequireToken("status", creds.Tokens), h.Scheduler.Status)
	r.POST("/scheduler/run", guard.RequireSecret("cron", creds.CronSecret), h.Scheduler.Run)

	return r
}
