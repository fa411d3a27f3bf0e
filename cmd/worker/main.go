package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/chaingraph/cmd/worker/config"
	"github.com/chaingraph/chaingraph/internal/bus"
	sharedconfig "github.com/chaingraph/chaingraph/internal/config"
	"github.com/chaingraph/chaingraph/internal/engine"
	"github.com/chaingraph/chaingraph/internal/store"
	"github.com/chaingraph/chaingraph/internal/tracing"
	"github.com/chaingraph/chaingraph/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("🚀 ChainGraph Worker")
	fmt.Printf("🗄️  Database: %s\n", cfg.Database.URL)
	fmt.Printf("📨 Message bus: %s\n", cfg.MessageBus.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chaingraph-worker", sharedconfig.OTLPEndpoint())
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

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
	subscriber, err := bus.NewSubscriber(cfg.MessageBus.Brokers, cfg.MessageBus.ClientID, logger)
	if err != nil {
		log.Fatalf("failed to create message bus subscriber: %v", err)
	}
	defer subscriber.Close()
	fmt.Println("✅ Message bus subscriber connected")

	publisher, err := bus.NewPublisher(cfg.MessageBus.Brokers, logger)
	if err != nil {
		log.Fatalf("failed to create message bus publisher: %v", err)
	}
	defer publisher.Close()
	fmt.Println("✅ Message bus publisher connected")

	slogger := slog.Default()

	w := worker.New(st, subscriber, publisher, slogger, worker.Options{
		WorkerID:      cfg.WorkerID,
		Concurrency:   cfg.Concurrency,
		NodeTimeoutMs: cfg.NodeTimeoutMs,
		FlowTimeoutMs: cfg.FlowTimeoutMs,
	})

	sweeper := worker.NewOrphanSweeper(st, slogger, cfg.SweepSchedule)

	go func() {
		fmt.Println("✅ Worker claiming tasks")
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("worker stopped: %v", err)
		}
	}()

	go func() {
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("orphan sweeper stopped: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("\n🛑 Shutting down gracefully...")
	fmt.Println("👋 Shutdown complete")
}
