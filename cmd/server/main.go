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

	"fulfillment-core/config"
	"fulfillment-core/internal/api"
	"fulfillment-core/internal/broker"
	"fulfillment-core/internal/delivery"
	"fulfillment-core/internal/inventory"
	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/order"
	"fulfillment-core/internal/redisclient"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/topup"
	"fulfillment-core/internal/util"
	"fulfillment-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment core")

	tp, err := util.InitTracer("fulfillment-core", cfg.Observ.JaegerEndpoint)
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

	var db store.Store
	switch cfg.Database.Type {
	case "sqlite":
		db, err = store.NewSQLite(cfg.Database.File)
	default:
		db, err = store.NewPostgres(cfg.Database.URL)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Database connected: %s", cfg.Database.Type)

	// Redis is optional: without it the ordering rate limits and the sweep
	// lock are skipped, which only matters in multi-instance deployments.
	var redisClient *redisclient.Client
	redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, rate limits disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer eventProducer.Close()
	deliveryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDelivery)
	defer deliveryProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(eventProducer)

	cipherKey := ""
	if cfg.Business.EncryptStockCodes {
		cipherKey = cfg.Business.EncryptionKey
	}
	cipher, err := inventory.NewCipher(cipherKey)
	if err != nil {
		log.Fatalf("Failed to initialize stock cipher: %v", err)
	}

	accounts := ledger.New(db)
	reconciler := topup.New(db, accounts, eventPublisher, cfg.Business.BotSource)
	pool := inventory.New(db, cipher, eventPublisher, cfg.Business.LowStockThreshold)
	deliverer := delivery.NewKafka(deliveryProducer, cfg.Business.DeliveryMethod)
	machine := order.New(db, accounts, pool, deliverer, eventPublisher, &cfg.Business)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	deliveryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDelivery, cfg.Kafka.ConsumerGroup)
	deliveryWorker := worker.NewDeliveryWorker(deliveryConsumer, machine)
	go func() {
		if err := deliveryWorker.Start(workerCtx); err != nil {
			log.Printf("Delivery worker error: %v", err)
		}
	}()

	sweepWorker := worker.NewSweepWorker(machine, redisClient,
		time.Duration(cfg.Business.SweepIntervalSecs)*time.Second,
		time.Duration(cfg.Business.ReservationTTLMins)*time.Minute)
	go func() {
		if err := sweepWorker.Start(workerCtx); err != nil {
			log.Printf("Sweep worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(accounts, reconciler, pool, machine, redisClient, &cfg.Business)
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
	deliveryWorker.Stop()

	log.Println("Server exited")
}
