package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"membership-svc/cache"
	"membership-svc/config"
	"membership-svc/database"
	"membership-svc/handlers"
	"membership-svc/kafka"
	"membership-svc/middleware"
	"membership-svc/mpesa"
	"membership-svc/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg := config.Load()
	if perr := cfg.ValidateGateway(); perr != nil {
		// Surfaced at startup so a misconfigured deploy fails loud, and
		// re-checked per request so the error code reaches callers.
		logger.Warn("Gateway configuration incomplete", zap.String("code", string(perr.Code)), zap.String("reason", perr.Message))
	}

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("membership-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Wire stores, gateway client and handlers
	ledger := store.NewLedgerStore(db, logger)
	memberships := store.NewMembershipStore(db, logger)
	gateway := mpesa.NewClient(cfg, logger)

	paymentHandler := handlers.NewPaymentHandler(cfg, gateway, ledger, logger)
	callbackHandler := handlers.NewCallbackHandler(ledger, memberships, producer, redisClient, logger)
	membershipHandler := handlers.NewMembershipHandler(memberships, redisClient, logger)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Gateway callback endpoint (invoked by Daraja, not by users)
	router.POST("/payments/callback", callbackHandler.HandleCallback)

	// Client-facing endpoints
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.POST("/payments/initiate", paymentHandler.InitiatePayment)
		protected.GET("/memberships/:user_id", membershipHandler.GetMembership)
		protected.GET("/memberships/:user_id/transactions", paymentHandler.ListTransactions)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Membership Service started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
