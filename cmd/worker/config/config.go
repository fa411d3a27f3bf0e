// Package config loads cmd/worker's settings from the environment
// (spec §6 worker env vars), the Worker Runtime generalization of the
// teacher's cmd/server/config.Config.
package config

import (
	sharedconfig "github.com/chaingraph/chaingraph/internal/config"
)

// Config is cmd/worker's full configuration.
type Config struct {
	Database      sharedconfig.DatabaseConfig
	MessageBus    sharedconfig.MessageBusConfig
	LogLevel      string
	WorkerID      string
	Concurrency   int
	NodeTimeoutMs int
	FlowTimeoutMs int
	SweepSchedule string
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	return &Config{
		Database:      sharedconfig.LoadDatabase(),
		MessageBus:    sharedconfig.LoadMessageBus("chaingraph-worker"),
		LogLevel:      sharedconfig.GetEnv("LOG_LEVEL", "info"),
		WorkerID:      sharedconfig.GetEnv("WORKER_ID", ""),
		Concurrency:   sharedconfig.GetEnvInt("WORKER_CONCURRENCY", 4),
		NodeTimeoutMs: sharedconfig.GetEnvInt("WORKER_NODE_TIMEOUT_MS", 30000),
		FlowTimeoutMs: sharedconfig.GetEnvInt("WORKER_FLOW_TIMEOUT_MS", 600000),
		SweepSchedule: sharedconfig.GetEnv("WORKER_SWEEP_SCHEDULE", "@every 1m"),
	}, nil
}
