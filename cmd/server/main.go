package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"milestone-reconciler/internal/app"
	"milestone-reconciler/internal/auth"
	"milestone-reconciler/internal/config"
	"milestone-reconciler/internal/dispatch"
	"milestone-reconciler/internal/handler"
	"milestone-reconciler/internal/httpserver"
	"milestone-reconciler/internal/mqhandler"
	"milestone-reconciler/internal/scheduler"
	"milestone-reconciler/pkg/circuitbreaker"
	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/mq"
	"milestone-reconciler/pkg/otel"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.NewLogger(cfg.LogLevel)
	defer zl.Sync()

	zl.Info("Starting milestone-reconciler...",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("dispatch_mode", cfg.Dispatch.Mode),
		zap.String("port", cfg.Server.Port),
	)
	if cfg.StoreDriver != config.StoreDriverPostgres {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// OpenTelemetry
	shutdownTracing, err := otel.Init(cfg.OTel, cfg.ServiceName, serviceVersion, zl)
	if err != nil {
		zl.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	// Store
	stores, err := app.OpenStores(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to init store", zap.Error(err))
	}
	defer stores.Close()

	// Redis (attempt limiter + per-milestone lock)
	rdb, err := app.OpenRedis(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to init Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var limiter auth.AttemptLimiter
	if rdb != nil {
		limiter = auth.NewRedisLimiter(rdb, cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration(), zl)
	} else {
		limiter = auth.NewMemoryLimiter(cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration())
	}

	// Engine
	coordinator := app.NewEngine(cfg, stores, rdb, zl).Coordinator

	// Dispatch target + MQ consumer
	var consumer *mq.Consumer
	var target dispatch.Target
	switch cfg.Dispatch.Mode {
	case config.DispatchModeHTTP:
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			zl.Warn("Recompute API circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		client := &http.Client{Timeout: cfg.Dispatch.TimeoutDuration()}
		target = dispatch.NewHTTPTarget(cfg.Dispatch.RecomputeURL, cfg.Auth.CronSecret, client, circuitbreaker.NewCircuitBreaker(breakerCfg))

	case config.DispatchModeMQ:
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			zl.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		target = dispatch.NewMQTarget(publisher)

		consumer, err = mq.NewConsumer(cfg.MQ.URL, mq.RouteFor("milestone-reconciler", dispatch.RoutingKey), zl)
		if err != nil {
			zl.Fatal("Failed to init MQ consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(mqhandler.NewMilestoneRecomputeHandler(coordinator, zl).Handle)

		go func() {
			if err := consumer.StartConsuming(); err != nil {
				zl.Error("Consumer stopped", zap.Error(err))
			}
		}()

	default:
		target = dispatch.NewCoordinatorTarget(coordinator)
	}

	pool := dispatch.NewPool(target, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.TimeoutDuration(), zl)
	pool.Start()

	// Scheduler
	runner := scheduler.NewRunner(coordinator, cfg.Scheduler, zl)
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	runner.Start(schedulerCtx)

	// HTTP
	webhookSecret := auth.NewSharedSecret(cfg.Auth.WebhookSecret)
	deps := httpserver.Dependencies{}
	if stores.Pinger != nil {
		deps.DB = stores.Pinger
	}
	if consumer != nil {
		deps.Consumer = consumer
	}
	router := httpserver.NewRouter(
		httpserver.Handlers{
			Webhook:   handler.NewWebhookHandler(pool, webhookSecret.Enabled(), zl),
			Recompute: handler.NewRecomputeHandler(coordinator, zl),
			Scheduler: handler.NewSchedulerHandler(coordinator, runner, zl),
		},
		httpserver.Credentials{
			WebhookSecret: webhookSecret,
			CronSecret:    auth.NewSharedSecret(cfg.Auth.CronSecret),
			Tokens:        auth.NewTokenVerifier(cfg.Auth.JWTSecret),
			Limiter:       limiter,
		},
		deps,
		zl,
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		zl.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	zl.Info("milestone-reconciler is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down milestone-reconciler gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// 先停止接收请求，再停 scheduler，最后排空 dispatch 队列
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		zl.Info("HTTP server stopped")
	}

	schedulerCancel()
	runner.Wait()

	if err := pool.Shutdown(shutdownCtx); err != nil {
		zl.Error("Dispatch pool did not drain", zap.Error(err))
	} else {
		zl.Info("Dispatch pool drained")
	}

	if consumer != nil {
		consumer.Stop()
	}

	zl.Info("milestone-reconciler shutdown complete")
}
