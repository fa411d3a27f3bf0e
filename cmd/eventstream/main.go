package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaingraph/chaingraph/cmd/eventstream/config"
	"github.com/chaingraph/chaingraph/internal/bus"
	sharedconfig "github.com/chaingraph/chaingraph/internal/config"
	"github.com/chaingraph/chaingraph/internal/eventstream"
	"github.com/chaingraph/chaingraph/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("🚀 ChainGraph Event Stream Service")
	fmt.Printf("📍 Server: %s\n", cfg.Addr())
	fmt.Printf("📨 Message bus: %s\n", cfg.MessageBus.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "chaingraph-eventstream", sharedconfig.OTLPEndpoint())
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	logger := watermill.NewStdLogger(false, false)
	subscriber, err := bus.NewSubscriber(cfg.MessageBus.Brokers, cfg.MessageBus.ClientID, logger)
	if err != nil {
		log.Fatalf("failed to create message bus subscriber: %v", err)
	}
	defer subscriber.Close()
	fmt.Println("✅ Message bus subscriber connected")

	server := eventstream.New(subscriber, slog.Default(), eventstream.Options{
		BufferSize:        cfg.BufferSize,
		SendRatePerSecond: cfg.SendRatePerSecond,
		SendBurst:         cfg.SendBurst,
	})

	go func() {
		fmt.Println("✅ Event stream bridging event topic")
		if err := server.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("event stream bridge stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, server.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"eventstream"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	go func() {
		fmt.Printf("🌐 Server listening on %s (ws at %s)\n", cfg.Addr(), cfg.WSPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("\n🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	fmt.Println("👋 Shutdown complete")
}
