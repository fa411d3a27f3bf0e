// Package config loads cmd/controlplane's settings from the
// environment (spec §6), the control-plane generalization of the
// teacher's cmd/server/config.Config.
package config

import (
	"fmt"

	sharedconfig "github.com/chaingraph/chaingraph/internal/config"
)

// ServerConfig is the HTTP command-ingress listener's settings.
type ServerConfig struct {
	Host string
	Port int
}

// Config is cmd/controlplane's full configuration.
type Config struct {
	Server             ServerConfig
	Database           sharedconfig.DatabaseConfig
	MessageBus         sharedconfig.MessageBusConfig
	LogLevel           string
	IdempotencyLRUSize int
	RedisURL           string
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Host: sharedconfig.GetEnv("HOST", "0.0.0.0"),
			Port: sharedconfig.GetEnvInt("PORT", 8080),
		},
		Database:           sharedconfig.LoadDatabase(),
		MessageBus:         sharedconfig.LoadMessageBus("chaingraph-controlplane"),
		LogLevel:           sharedconfig.GetEnv("LOG_LEVEL", "info"),
		IdempotencyLRUSize: sharedconfig.GetEnvInt("IDEMPOTENCY_LRU_SIZE", 8192),
		RedisURL:           sharedconfig.GetEnv("REDIS_URL", ""),
	}, nil
}

// ServerAddr returns the address the Echo server binds to.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
