// Package config loads the server settings from defaults, environment
// variables, .env files and JSON or YAML config files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment variable the server reads.
const EnvPrefix = "ROBOCLASS_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator.
// Each section maps onto one component's own Config in the composition root.
type Config struct {
	Database  *DatabaseConfig  `json:"database" yaml:"database"`
	HTTP      *HTTPConfig      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfig `json:"websocket" yaml:"websocket"`
	Socket    *SocketConfig    `json:"socket" yaml:"socket"`
	Auth      *AuthConfig      `json:"auth" yaml:"auth"`
	Hub       *HubConfig       `json:"hub" yaml:"hub"`
	Processor *ProcessorConfig `json:"processor" yaml:"processor"`
	Broker    *BrokerConfig    `json:"broker" yaml:"broker"`
	Logging   *LoggingConfig   `json:"logging" yaml:"logging"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	MigrationsPath string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// Address is the listen address for the HTTP server.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// SocketConfig is the raw TCP listener used by robots that speak binary frames.
type SocketConfig struct {
	Enabled     bool          `json:"enabled"`
	Address     string        `json:"address"`
	SendTimeout time.Duration `json:"send_timeout"`
}

type AuthConfig struct {
	Secret   string        `json:"secret"`
	Issuer   string        `json:"issuer"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

type HubConfig struct {
	StallCheckInterval time.Duration `json:"stall_check_interval"`
	StallTimeout       time.Duration `json:"stall_timeout"`
}

// ProcessorConfig limits inbound messages per connection. A zero limit turns
// limiting off.
type ProcessorConfig struct {
	RateLimit  int           `json:"rate_limit"`
	RateWindow time.Duration `json:"rate_window"`
}

// BrokerConfig points at the RabbitMQ server receiving the command audit
// trail. An empty URL disables publishing.
type BrokerConfig struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements.
// Robots on the socket port 5002, browsers and WebSocket robots on 8080.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/roboclass.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			MaxMessageSize: 64 * 1024,
		},
		Socket: &SocketConfig{
			Enabled:     true,
			Address:     ":5002",
			SendTimeout: 5 * time.Second,
		},
		Auth: &AuthConfig{
			Issuer:   "roboclass",
			CacheTTL: 5 * time.Minute,
		},
		Hub: &HubConfig{
			StallCheckInterval: 2 * time.Minute,
			StallTimeout:       2 * time.Minute,
		},
		Processor: &ProcessorConfig{
			RateLimit:  100,
			RateWindow: time.Minute,
		},
		Broker: &BrokerConfig{
			Queue: "command.applied",
		},
		Logging: &LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Socket == nil {
		return errors.New("socket configuration is required")
	}
	if c.Socket.Enabled && c.Socket.Address == "" {
		return errors.New("socket address cannot be empty when the socket listener is enabled")
	}

	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required (set %sAUTH_SECRET)", EnvPrefix)
	}

	if c.Hub == nil {
		return errors.New("hub configuration is required")
	}
	if c.Hub.StallCheckInterval <= 0 || c.Hub.StallTimeout <= 0 {
		return errors.New("hub stall check interval and timeout must be positive")
	}

	if c.Processor == nil {
		return errors.New("processor configuration is required")
	}
	if c.Processor.RateLimit < 0 {
		return errors.New("processor rate limit cannot be negative")
	}
	if c.Processor.RateLimit > 0 && c.Processor.RateWindow <= 0 {
		return errors.New("processor rate window must be positive")
	}

	if c.Broker == nil {
		return errors.New("broker configuration is required")
	}
	if c.Logging == nil {
		return errors.New("logging configuration is required")
	}
	return nil
}

// LoadDotEnv loads variables from .env style files without overriding
// variables already set in the process. With no paths it reads ./.env, and a
// missing ./.env is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", paths, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults.
// A missing file is an error; an empty path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
