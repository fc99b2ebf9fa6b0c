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

	"checkout-engine/config"
	"checkout-engine/internal/api"
	"checkout-engine/internal/broker"
	"checkout-engine/internal/gateway"
	"checkout-engine/internal/redisclient"
	"checkout-engine/internal/service"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"
	"checkout-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout engine")

	tp, err := util.InitTracer("checkout-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	var adapters []gateway.Adapter
	if cfg.Gateways.CardGate.Enabled {
		adapters = append(adapters, gateway.NewCardGate(cfg.Gateways.CardGate))
	}
	if cfg.Gateways.MarketPay.Enabled {
		adapters = append(adapters, gateway.NewMarketPay(cfg.Gateways.MarketPay))
	}
	registry := gateway.NewRegistry(adapters...)
	log.Printf("Gateways configured: %v", registry.Names())

	stockService := service.NewStockService(db, redisClient)
	checkoutService := service.NewCheckoutService(db, redisClient, stockService, registry, eventPublisher, cfg.Checkout)
	reconciler := service.NewReconcilerService(db, stockService, registry, eventPublisher)
	replayer := service.NewReplayerService(db, registry, reconciler)
	stockSync := service.NewStockSyncService(db, stockService, cfg.ERP)

	ctx := context.Background()
	if err := stockService.SyncStockToRedis(ctx); err != nil {
		log.Printf("Failed to sync stock counters to Redis: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	bookkeeping := worker.NewBookkeepingWorker(consumer, db)
	go func() {
		if err := bookkeeping.Start(workerCtx); err != nil {
			log.Printf("Bookkeeping worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, reconciler, replayer, stockSync, cfg.Admin.APIToken)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	bookkeeping.Stop()

	log.Println("Server exited")
}
