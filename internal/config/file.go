package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the on-disk layout. Durations are strings such as "30s" so
// the same struct reads both JSON and YAML.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Socket    *SocketConfigFile    `json:"socket" yaml:"socket"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	Hub       *HubConfigFile       `json:"hub" yaml:"hub"`
	Processor *ProcessorConfigFile `json:"processor" yaml:"processor"`
	Broker    *BrokerConfig        `json:"broker" yaml:"broker"`
	Logging   *LoggingConfig       `json:"logging" yaml:"logging"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path" yaml:"path"`
	Timeout        string `json:"timeout" yaml:"timeout"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval   string   `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout    string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout" yaml:"write_timeout"`
	MaxMessageSize int64    `json:"max_message_size" yaml:"max_message_size"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type SocketConfigFile struct {
	Enabled     *bool  `json:"enabled" yaml:"enabled"`
	Address     string `json:"address" yaml:"address"`
	SendTimeout string `json:"send_timeout" yaml:"send_timeout"`
}

type AuthConfigFile struct {
	Secret   string `json:"secret" yaml:"secret"`
	Issuer   string `json:"issuer" yaml:"issuer"`
	CacheTTL string `json:"cache_ttl" yaml:"cache_ttl"`
}

type HubConfigFile struct {
	StallCheckInterval string `json:"stall_check_interval" yaml:"stall_check_interval"`
	StallTimeout       string `json:"stall_timeout" yaml:"stall_timeout"`
}

type ProcessorConfigFile struct {
	RateLimit  *int   `json:"rate_limit" yaml:"rate_limit"`
	RateWindow string `json:"rate_window" yaml:"rate_window"`
}

// LoadFromFile reads a JSON or YAML file over the defaults. Files ending in
// .yaml or .yml are YAML; everything else is JSON.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return nil
}

// apply copies every value set in the file onto config. Zero values leave the
// existing setting alone.
func (f *ConfigFile) apply(config *Config) error {
	d := durations{}

	if db := f.Database; db != nil {
		setString(&config.Database.Path, db.Path)
		d.parse("database.timeout", db.Timeout, &config.Database.Timeout)
		setInt(&config.Database.MaxConnections, db.MaxConnections)
		setString(&config.Database.MigrationsPath, db.MigrationsPath)
	}

	if h := f.HTTP; h != nil {
		setInt(&config.HTTP.Port, h.Port)
		setString(&config.HTTP.Host, h.Host)
		d.parse("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout)
		d.parse("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if ws := f.WebSocket; ws != nil {
		d.parse("websocket.ping_interval", ws.PingInterval, &config.WebSocket.PingInterval)
		d.parse("websocket.read_timeout", ws.ReadTimeout, &config.WebSocket.ReadTimeout)
		d.parse("websocket.write_timeout", ws.WriteTimeout, &config.WebSocket.WriteTimeout)
		if ws.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
		if len(ws.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = ws.AllowedOrigins
		}
	}

	if s := f.Socket; s != nil {
		if s.Enabled != nil {
			config.Socket.Enabled = *s.Enabled
		}
		setString(&config.Socket.Address, s.Address)
		d.parse("socket.send_timeout", s.SendTimeout, &config.Socket.SendTimeout)
	}

	if a := f.Auth; a != nil {
		setString(&config.Auth.Secret, a.Secret)
		setString(&config.Auth.Issuer, a.Issuer)
		d.parse("auth.cache_ttl", a.CacheTTL, &config.Auth.CacheTTL)
	}

	if h := f.Hub; h != nil {
		d.parse("hub.stall_check_interval", h.StallCheckInterval, &config.Hub.StallCheckInterval)
		d.parse("hub.stall_timeout", h.StallTimeout, &config.Hub.StallTimeout)
	}

	if p := f.Processor; p != nil {
		if p.RateLimit != nil {
			config.Processor.RateLimit = *p.RateLimit
		}
		d.parse("processor.rate_window", p.RateWindow, &config.Processor.RateWindow)
	}

	if b := f.Broker; b != nil {
		setString(&config.Broker.URL, b.URL)
		setString(&config.Broker.Queue, b.Queue)
	}

	if l := f.Logging; l != nil {
		setString(&config.Logging.Level, l.Level)
		setString(&config.Logging.Format, l.Format)
	}

	return d.err
}

// durations parses duration strings and keeps the first failure.
type durations struct {
	err error
}

func (d *durations) parse(key, value string, target *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*target = parsed
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value > 0 {
		*target = value
	}
}
