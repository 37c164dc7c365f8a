package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envBinding applies one environment variable. Values that fail to parse are
// ignored and the previous setting stays.
type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

func stringVar(target func(*Config) *string) func(*Config, string) error {
	return func(c *Config, value string) error {
		*target(c) = value
		return nil
	}
}

func intVar(target func(*Config) *int) func(*Config, string) error {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*target(c) = n
		return nil
	}
}

func durationVar(target func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*target(c) = d
		return nil
	}
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback
var envBindings = []envBinding{
	{"DATABASE_PATH", stringVar(func(c *Config) *string { return &c.Database.Path })},
	{"DATABASE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Database.Timeout })},
	{"DATABASE_MAX_CONNECTIONS", intVar(func(c *Config) *int { return &c.Database.MaxConnections })},
	{"DATABASE_MIGRATIONS_PATH", stringVar(func(c *Config) *string { return &c.Database.MigrationsPath })},

	{"HTTP_PORT", intVar(func(c *Config) *int { return &c.HTTP.Port })},
	{"HTTP_HOST", stringVar(func(c *Config) *string { return &c.HTTP.Host })},
	{"HTTP_READ_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.ReadTimeout })},
	{"HTTP_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.WriteTimeout })},

	{"WEBSOCKET_PING_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.WebSocket.PingInterval })},
	{"WEBSOCKET_READ_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.WebSocket.ReadTimeout })},
	{"WEBSOCKET_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.WebSocket.WriteTimeout })},
	{"WEBSOCKET_MAX_MESSAGE_SIZE", func(c *Config, value string) error {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		c.WebSocket.MaxMessageSize = n
		return nil
	}},
	{"WEBSOCKET_ALLOWED_ORIGINS", func(c *Config, value string) error {
		c.WebSocket.AllowedOrigins = splitList(value)
		return nil
	}},

	{"SOCKET_ENABLED", func(c *Config, value string) error {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.Socket.Enabled = enabled
		return nil
	}},
	{"SOCKET_ADDRESS", stringVar(func(c *Config) *string { return &c.Socket.Address })},
	{"SOCKET_SEND_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Socket.SendTimeout })},

	{"AUTH_SECRET", stringVar(func(c *Config) *string { return &c.Auth.Secret })},
	{"AUTH_ISSUER", stringVar(func(c *Config) *string { return &c.Auth.Issuer })},
	{"AUTH_CACHE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Auth.CacheTTL })},

	{"HUB_STALL_CHECK_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Hub.StallCheckInterval })},
	{"HUB_STALL_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Hub.StallTimeout })},

	{"PROCESSOR_RATE_LIMIT", intVar(func(c *Config) *int { return &c.Processor.RateLimit })},
	{"PROCESSOR_RATE_WINDOW", durationVar(func(c *Config) *time.Duration { return &c.Processor.RateWindow })},

	{"BROKER_URL", stringVar(func(c *Config) *string { return &c.Broker.URL })},
	{"BROKER_QUEUE", stringVar(func(c *Config) *string { return &c.Broker.Queue })},

	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
}

// LoadFromEnv returns the defaults overridden by ROBOCLASS_* variables.
// Supports containerized deployments and configuration management systems.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	for _, binding := range envBindings {
		value := os.Getenv(EnvPrefix + binding.name)
		if value == "" {
			continue
		}
		_ = binding.apply(config, value)
	}
	return config
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
