// Package config loads cmd/eventstream's settings from the environment
// (spec §6 event stream env vars), the Event Stream Service
// generalization of the teacher's cmd/server/config.Config.
package config

import (
	"fmt"

	sharedconfig "github.com/chaingraph/chaingraph/internal/config"
)

// Config is cmd/eventstream's full configuration.
type Config struct {
	Host              string
	Port              int
	WSPath            string
	MessageBus        sharedconfig.MessageBusConfig
	LogLevel          string
	BufferSize        int
	SendRatePerSecond float64
	SendBurst         int
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	return &Config{
		Host:              sharedconfig.GetEnv("HOST", "0.0.0.0"),
		Port:              sharedconfig.GetEnvInt("EVENT_STREAM_PORT", 8081),
		WSPath:            sharedconfig.GetEnv("EVENT_STREAM_WS_PATH", "/ws"),
		MessageBus:        sharedconfig.LoadMessageBus("chaingraph-eventstream"),
		LogLevel:          sharedconfig.GetEnv("LOG_LEVEL", "info"),
		BufferSize:        sharedconfig.GetEnvInt("EVENT_STREAM_BUFFER_SIZE", 64),
		SendRatePerSecond: sharedconfig.GetEnvFloat("EVENT_STREAM_SEND_RATE", 200),
		SendBurst:         sharedconfig.GetEnvInt("EVENT_STREAM_SEND_BURST", 50),
	}, nil
}

// Addr returns the address the server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
