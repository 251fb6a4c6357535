package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/application/reconcile"
	"tutor-booking/internal/common/configs"
	"tutor-booking/internal/common/health"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/common/metrics"
	"tutor-booking/internal/infrastructure/auditlog"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/infrastructure/gateway"
	"tutor-booking/internal/reliability"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := configs.GetDatabaseURL()

	l := logger.NewStdLogger()

	store, err := bookingstore.NewPostgresStore(dbURL)
	if err != nil {
		l.Error("Failed to initialize booking store", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer store.Close()

	audit, err := auditlog.NewPostgresLog(dbURL)
	if err != nil {
		l.Error("Failed to initialize audit log", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer audit.Close()

	bus := eventbus.NewKafkaPublisher(configs.GetKafkaBrokers())
	defer bus.Close()

	gw := gateway.NewSimulatedGateway()

	breakerCfg := reliability.BreakerConfig{
		FailureThreshold: configs.DefaultBreakerFailureThreshold,
		SuccessThreshold: configs.DefaultBreakerSuccessThreshold,
		Timeout:          configs.DefaultBreakerTimeout,
		Excluded:         gateway.IsCallerError,
	}
	breakers := reliability.NewRegistry(breakerCfg, coordinator.BreakerEventHandler(bus, l))

	tracker := reliability.NewWebhookRetryTracker(configs.DefaultWebhookTrackerMaxEntries, configs.DefaultWebhookRetention)
	poller := reliability.NewStatusPoller(gw, breakers.Get(configs.DependencyPaymentProvider), configs.DefaultStatusCacheTTL)

	coord := coordinator.New(store, audit, bus, gw, breakers, tracker, poller,
		metrics.NewCounterCollector(), l, coordinator.DefaultConfig())

	reconciler := reconcile.New(store, poller, coord, l,
		configs.DefaultReconcileInterval, configs.DefaultReconcileStaleAfter, configs.DefaultReconcileBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewStaticChecker()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Check(c.Request.Context()))
	})

	srv := &http.Server{
		Addr:    ":" + configs.PortReconciler,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("Health server failed", logger.Field{Key: "error", Value: err})
		}
	}()

	l.Info("Starting payment reconciler",
		logger.Field{Key: "interval", Value: configs.DefaultReconcileInterval.String()},
		logger.Field{Key: "stale_after", Value: configs.DefaultReconcileStaleAfter.String()})

	go reconciler.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down reconciler...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("Health server shutdown failed", logger.Field{Key: "error", Value: err})
	}
}
