package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. CLASSPULSE_HTTP_PORT.
const EnvPrefix = "CLASSPULSE"

// Config is the full runtime configuration.
// ARCHITECTURAL DISCOVERY: one struct per component section so each
// constructor receives only its own settings
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Rooms      RoomsConfig      `mapstructure:"rooms"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Log        LogConfig        `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// Timeout bounds a queued write.
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// BufferSize is the per-connection outbound queue length.
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
}

type SchedulerConfig struct {
	// Enabled starts the dispatcher that pushes questions to ready students.
	Enabled      bool          `mapstructure:"enabled"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	HistoryCap   int           `mapstructure:"history_cap"`
}

type RoomsConfig struct {
	// LeftRetention is how long Left participants stay visible in stats.
	LeftRetention   time.Duration `mapstructure:"left_retention"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type ClassifierConfig struct {
	// ModelPath is a JSON weights file; empty uses the built-in model.
	ModelPath string `mapstructure:"model_path"`
	// ExpectedTime is the answer time, in seconds, assumed for questions
	// without a time limit.
	ExpectedTime float64 `mapstructure:"expected_time"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DefaultConfig returns settings for a single-classroom deployment: SQLite
// under ./data, HTTP on 8080, a 30s websocket heartbeat.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "./data/classpulse.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
			RetryDelay:     5 * time.Second,
			AutoMigrate:    true,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
			MaxMessageSize:   64 * 1024,
			RateLimit:        100,
			RateWindow:       time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 5 * time.Second,
			HistoryCap:   256,
		},
		Rooms: RoomsConfig{
			LeftRetention:   2 * time.Hour,
			JanitorInterval: 5 * time.Minute,
		},
		Classifier: ClassifierConfig{
			ExpectedTime: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	d := c.Database
	switch {
	case d.Path == "":
		return fmt.Errorf("database path cannot be empty")
	case d.Timeout <= 0:
		return fmt.Errorf("database timeout must be positive")
	case d.MaxConnections <= 0:
		return fmt.Errorf("database max connections must be positive")
	case d.RetryDelay < 0:
		return fmt.Errorf("database retry delay cannot be negative")
	}

	h := c.HTTP
	switch {
	case h.Host == "":
		return fmt.Errorf("HTTP host cannot be empty")
	case h.Port <= 0 || h.Port > 65535:
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	case h.ReadTimeout <= 0 || h.WriteTimeout <= 0:
		return fmt.Errorf("HTTP timeouts must be positive")
	case h.ShutdownTimeout <= 0:
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	w := c.WebSocket
	switch {
	case w.PingInterval <= 0:
		return fmt.Errorf("WebSocket ping interval must be positive")
	case w.ReadTimeout <= w.PingInterval:
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	case w.WriteTimeout <= 0 || w.HandshakeTimeout <= 0:
		return fmt.Errorf("WebSocket timeouts must be positive")
	case w.BufferSize <= 0:
		return fmt.Errorf("WebSocket buffer size must be positive")
	case w.MaxMessageSize <= 0:
		return fmt.Errorf("WebSocket max message size must be positive")
	case w.RateLimit <= 0 || w.RateWindow <= 0:
		return fmt.Errorf("WebSocket rate limit and window must be positive")
	}

	switch {
	case c.Scheduler.TickInterval <= 0:
		return fmt.Errorf("scheduler tick interval must be positive")
	case c.Scheduler.HistoryCap <= 0:
		return fmt.Errorf("scheduler history cap must be positive")
	case c.Rooms.LeftRetention <= 0:
		return fmt.Errorf("rooms left retention must be positive")
	case c.Rooms.JanitorInterval <= 0:
		return fmt.Errorf("rooms janitor interval must be positive")
	case c.Classifier.ExpectedTime <= 0:
		return fmt.Errorf("classifier expected time must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.retry_delay", d.Database.RetryDelay)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.handshake_timeout", d.WebSocket.HandshakeTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.rate_limit", d.WebSocket.RateLimit)
	v.SetDefault("websocket.rate_window", d.WebSocket.RateWindow)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)
	v.SetDefault("scheduler.history_cap", d.Scheduler.HistoryCap)

	v.SetDefault("rooms.left_retention", d.Rooms.LeftRetention)
	v.SetDefault("rooms.janitor_interval", d.Rooms.JanitorInterval)

	v.SetDefault("classifier.model_path", d.Classifier.ModelPath)
	v.SetDefault("classifier.expected_time", d.Classifier.ExpectedTime)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// LoadFromEnv applies a .env file in the working directory, if present, and
// CLASSPULSE_* variables over the defaults.
func LoadFromEnv() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment config: %w", err)
	}
	return cfg, nil
}

// applyFile overlays the keys present in the file at path onto cfg. Keys
// the file does not mention keep their current values.
func applyFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads a JSON, YAML or TOML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the configuration with precedence file > environment >
// defaults. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
