package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	sharedconfig "github.com/chaingraph/chaingraph/internal/config"

	"github.com/chaingraph/chaingraph/cmd/controlplane/config"
	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/controlplane"
	"github.com/chaingraph/chaingraph/internal/engine"
	"github.com/chaingraph/chaingraph/internal/infrastructure/http/handlers"
	"github.com/chaingraph/chaingraph/internal/infrastructure/http/middleware"
	"github.com/chaingraph/chaingraph/internal/infrastructure/monitoring"
	"github.com/chaingraph/chaingraph/internal/store"
	"github.com/chaingraph/chaingraph/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("🚀 ChainGraph Control Plane")
	fmt.Printf("📍 Server: %s\n", cfg.ServerAddr())
	fmt.Printf("🗄️  Database: %s\n", cfg.Database.URL)
	fmt.Printf("📨 Message bus: %s\n", cfg.MessageBus.Brokers)

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, "chaingraph-controlplane", sharedconfig.OTLPEndpoint())
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := store.Migrate(cfg.Database.URL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	fmt.Println("✅ Migrations applied")

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()
	fmt.Println("✅ Database connected")

	registry := engine.NewRegistry()
	engine.RegisterBuiltins(registry)

	st := store.New(pool, registry)

	logger := watermill.NewStdLogger(false, false)
	publisher, err := bus.NewPublisher(cfg.MessageBus.Brokers, logger)
	if err != nil {
		log.Fatalf("failed to create message bus publisher: %v", err)
	}
	defer publisher.Close()
	fmt.Println("✅ Message bus publisher connected")

	var dedupe bus.CommandDeduper
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		dedupe = bus.NewRedisDeduper(redisClient, "chaingraph:cmd:", 24*time.Hour)
		fmt.Println("✅ Command dedupe backed by Redis")
	} else {
		dedupe, err = bus.NewLRUDeduper(cfg.IdempotencyLRUSize)
		if err != nil {
			log.Fatalf("failed to create idempotency cache: %v", err)
		}
		fmt.Println("✅ Command dedupe backed by in-process LRU")
	}

	service := controlplane.NewService(st, publisher, dedupe)
	commandHandler := handlers.NewCommandHandler(service, st)

	metrics := monitoring.NewMetrics("chaingraph")

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler()

	e.Use(otelecho.Middleware("chaingraph-controlplane"))
	e.Use(middleware.Logger())
	e.Use(middleware.Metrics(metrics))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.SimpleRateLimit(50, 100))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy", "service": "controlplane"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.POST("/commands", commandHandler.Submit)
	api.GET("/executions/:execution_id", commandHandler.Get)

	go func() {
		fmt.Printf("🌐 Server listening on %s\n", cfg.ServerAddr())
		if err := e.Start(cfg.ServerAddr()); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	fmt.Println("👋 Shutdown complete")
}
