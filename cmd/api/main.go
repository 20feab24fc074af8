package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/travel_booking/internal/adapter/cache"
	"github.com/srgjo27/travel_booking/internal/adapter/events"
	"github.com/srgjo27/travel_booking/internal/adapter/handler"
	"github.com/srgjo27/travel_booking/internal/adapter/repository/memory"
	"github.com/srgjo27/travel_booking/internal/adapter/repository/postgres"
	"github.com/srgjo27/travel_booking/internal/core/ports"
	"github.com/srgjo27/travel_booking/internal/core/services"
	"github.com/srgjo27/travel_booking/internal/platform/config"
	"github.com/srgjo27/travel_booking/internal/platform/database"
	"github.com/srgjo27/travel_booking/internal/platform/telemetry"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	var (
		inventoryRepo ports.InventoryRepository
		bookingRepo   ports.BookingRepository
	)

	switch cfg.StorageDriver {
	case "memory":
		log.Println("Using in-memory storage. Data is lost on restart.")
		store := memory.NewStore()
		inventoryRepo, bookingRepo = store, store
	default:
		db, err := database.NewPostgresDB(cfg.DB)
		if err != nil {
			log.Fatalf("Failed to connect to db after retries: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		defer db.Close()

		if cfg.DBMigrate {
			if err := database.Migrate(context.Background(), db); err != nil {
				log.Fatalf("Failed to migrate database: %v", err)
			}
		}

		inventoryRepo = postgres.NewInventoryRepository(db)
		bookingRepo = postgres.NewBookingRepository(db)
	}

	// A nil interface, not a typed nil, keeps the services off the cache.
	var catalogCache ports.CatalogCache

	log.Printf("Connecting to Redis at %s...", cfg.RedisAddr())
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis unavailable, catalog reads go straight to storage: %v", err)
		redisClient.Close()
	} else {
		log.Println("Redis connected successfully!")
		catalogCache = cache.NewRedisCatalog(redisClient, cfg.CacheTTL)
		defer redisClient.Close()
	}
	cancelPing()

	var publisher ports.EventPublisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		rabbit := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
		defer rabbit.Close()
		publisher = rabbit
		log.Printf("Publishing booking events to exchange %s", cfg.EventsExchange)
	} else {
		log.Println("RABBITMQ_URL not set, booking events are dropped.")
	}

	bookingService := services.NewBookingService(inventoryRepo, bookingRepo, catalogCache, publisher, services.Options{
		MaxAttempts:   cfg.AdmissionMaxAttempts,
		CommitTimeout: cfg.AdmissionCommitTimeout,
		PendingTTL:    cfg.PendingTTL,
		SweepInterval: cfg.PendingSweepInterval,
	})
	inventoryService := services.NewInventoryService(inventoryRepo, catalogCache)

	router := handler.NewRouter(
		handler.NewBookingHandler(bookingService),
		handler.NewInventoryHandler(inventoryService),
		handler.RouterConfig{
			JWTSecret:      cfg.JWTSecret,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		},
	)
	if cfg.JWTSecret == "" {
		log.Println("JWT_SECRET not set, API runs without authentication.")
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go func() {
		bookingService.RunPendingExpiry(bgCtx)
	}()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server startup failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("Failed to flush traces: %v", err)
	}

	log.Println("Server exiting")
}
