package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/common/configs"
	"tutor-booking/internal/common/health"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/common/metrics"
	"tutor-booking/internal/infrastructure/auditlog"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/infrastructure/gateway"
	httphandler "tutor-booking/internal/infrastructure/http"
	"tutor-booking/internal/reliability"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Load configuration
	dbURL := configs.GetDatabaseURL()
	port := configs.PortCoordinator

	// Initialize logger
	l := logger.NewStdLogger()

	// Initialize database
	db, err := initPostgreSQL(dbURL)
	if err != nil {
		l.Error("Failed to initialize database", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer db.Close()

	// Initialize booking store
	store, err := bookingstore.NewPostgresStore(dbURL)
	if err != nil {
		l.Error("Failed to initialize booking store", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer store.Close()

	// Initialize audit log
	audit, err := auditlog.NewPostgresLog(dbURL)
	if err != nil {
		l.Error("Failed to initialize audit log", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer audit.Close()

	// Initialize event bus
	bus := eventbus.NewKafkaPublisher(configs.GetKafkaBrokers())
	defer bus.Close()

	// Initialize payment gateway
	gw := gateway.NewSimulatedGateway()

	// Initialize reliability layer
	breakerCfg := reliability.BreakerConfig{
		FailureThreshold: configs.DefaultBreakerFailureThreshold,
		SuccessThreshold: configs.DefaultBreakerSuccessThreshold,
		Timeout:          configs.DefaultBreakerTimeout,
		Excluded:         gateway.IsCallerError,
	}
	breakers := reliability.NewRegistry(breakerCfg, coordinator.BreakerEventHandler(bus, l))

	tracker := reliability.NewWebhookRetryTracker(configs.DefaultWebhookTrackerMaxEntries, configs.DefaultWebhookRetention)
	poller := reliability.NewStatusPoller(gw, breakers.Get(configs.DependencyPaymentProvider), configs.DefaultStatusCacheTTL)

	// Initialize coordinator
	coord := coordinator.New(store, audit, bus, gw, breakers, tracker, poller,
		metrics.NewCounterCollector(), l, coordinator.DefaultConfig())

	// Initialize HTTP handlers
	bookingHandler := httphandler.NewBookingHandler(coord)
	reliabilityHandler := httphandler.NewReliabilityHandler(coord, health.NewDBChecker(db))

	// Setup HTTP router
	router := setupRouter(bookingHandler, reliabilityHandler)

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	l.Info("Starting booking coordinator", logger.Field{Key: "port", Value: port})

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("Server failed", logger.Field{Key: "error", Value: err})
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", logger.Field{Key: "error", Value: err})
	}
}

func initPostgreSQL(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func setupRouter(bookingHandler *httphandler.BookingHandler, reliabilityHandler *httphandler.ReliabilityHandler) *gin.Engine {
	router := gin.Default()

	// Health check
	router.GET("/health", reliabilityHandler.Health)

	// API routes
	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.GET("/:id/history", bookingHandler.GetHistory)

			bookings.POST("/:id/schedule", bookingHandler.ScheduleSession)
			bookings.POST("/:id/start", bookingHandler.StartSession)
			bookings.POST("/:id/end", bookingHandler.EndSession)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
			bookings.POST("/:id/expire", bookingHandler.ExpireBooking)

			bookings.POST("/:id/payment/authorize", bookingHandler.AuthorizePayment)
			bookings.POST("/:id/payment/capture", bookingHandler.CapturePayment)
			bookings.POST("/:id/payment/void", bookingHandler.VoidPayment)
			bookings.POST("/:id/payment/refund", bookingHandler.RefundPayment)
			bookings.GET("/:id/payment/status", reliabilityHandler.CheckPaymentStatus)

			bookings.POST("/:id/disputes/open", bookingHandler.OpenDispute)
			bookings.POST("/:id/disputes/resolve", bookingHandler.ResolveDispute)
		}

		v1.POST("/webhooks/payments", reliabilityHandler.IngestWebhook)

		reliabilityGroup := v1.Group("/reliability")
		{
			reliabilityGroup.GET("/status", reliabilityHandler.GetReliabilityStatus)
			reliabilityGroup.GET("/webhooks/problematic", reliabilityHandler.GetProblematicWebhooks)
		}
	}

	return router
}
