package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env), zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, err := openRepository(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)
	registry := newGatewayRegistry(cfg.Gateway)
	logger.Info("Payment methods registered", zap.Strings("methods", registry.Methods()))

	services := api.Services{
		Cart: service.NewCartService(repo),
		Checkout: service.NewCheckoutService(repo, redisClient, eventPublisher,
			cfg.Business.ReservationTTL(), cfg.Business.IdempotencyTTL()),
		Settlement: service.NewSettlementService(repo, registry, redisClient, eventPublisher, cfg.Gateway.Timeout()),
		Orders:     service.NewOrderService(repo, eventPublisher, cfg.Business.OrdersPageSize),
		Inventory:  service.NewInventoryService(repo),
	}
	sweeper := service.NewReservationSweeper(repo, eventPublisher, cfg.Business.SweepBatchSize)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	callbackConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentCallbacks, cfg.Kafka.ConsumerGroup)
	callbackWorker := worker.NewPaymentCallbackWorker(callbackConsumer, services.Settlement)
	go func() {
		if err := callbackWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Payment callback worker error", zap.Error(err))
		}
	}()

	sweepWorker := worker.NewSweepWorker(sweeper, redisClient, cfg.Business.SweepInterval())
	go func() {
		if err := sweepWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sweep worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), repo)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := callbackWorker.Stop(); err != nil {
		logger.Warn("Error stopping payment callback worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openRepository returns PostgreSQL with its schema applied, or the
// in-process store for memory://
func openRepository(cfg config.DatabaseConfig) (store.Repository, error) {
	logger := util.GetLogger()

	if cfg.InMemory() {
		logger.Warn("Using in-memory store, data is lost on exit")
		return memstore.New(), nil
	}

	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Database connected")
	return db, nil
}

// newGatewayRegistry binds payment methods to verifiers. Cash and transfer
// are approved by an operator; card goes to the HTTP gateway.
func newGatewayRegistry(cfg config.GatewayConfig) *gateway.Registry {
	registry := gateway.NewRegistry()
	registry.Register("cash", gateway.ManualVerifier{})
	registry.Register("transfer", gateway.ManualVerifier{})
	registry.Register("card", gateway.NewHTTPVerifier(cfg.URL, cfg.APIKey, cfg.Timeout()))

	if cfg.Braintree.MerchantID != "" {
		registry.Register("braintree", gateway.NewBraintreeVerifier(gateway.BraintreeConfig(cfg.Braintree)))
	}
	return registry
}
