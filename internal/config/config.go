package config

import "time"

// Config is the top-level fleetwatch configuration.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Watch    WatchConfig    `yaml:"watch"`
	Poller   PollerConfig   `yaml:"poller"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RealtimeConfig configures the shared real-time connection.
type RealtimeConfig struct {
	URL                  string        `yaml:"url" validate:"required,url"`
	Path                 string        `yaml:"path" validate:"startswith=/"`
	Transports           []string      `yaml:"transports" validate:"min=1,dive,oneof=websocket polling"`
	Reconnection         *bool         `yaml:"reconnection"`
	ReconnectionAttempts int           `yaml:"reconnection_attempts" validate:"gte=0"`
	ReconnectionDelay    time.Duration `yaml:"reconnection_delay" validate:"gt=0"`
	ReconnectionDelayMax time.Duration `yaml:"reconnection_delay_max" validate:"gt=0"`
	Timeout              time.Duration `yaml:"timeout" validate:"gt=0"`
	PingInterval         time.Duration `yaml:"ping_interval"` // negative disables keepalive
	PingTimeout          time.Duration `yaml:"ping_timeout" validate:"gt=0"`
	RoomType             string        `yaml:"room_type" validate:"required"`
	MaxConnectAttempts   int           `yaml:"max_connect_attempts" validate:"gte=1"`
}

// ReconnectionEnabled reports whether transport-level reconnection is on.
func (c RealtimeConfig) ReconnectionEnabled() bool {
	return c.Reconnection == nil || *c.Reconnection
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	Retries           int           `yaml:"retries" validate:"gte=1"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	DelayFirstAttempt bool          `yaml:"delay_first_attempt"`
	RateLimit         float64       `yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited
	RateBurst         int           `yaml:"rate_burst" validate:"gte=0"`
}

// WatchConfig configures view-level reconnection.
type WatchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	SweepInterval  time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

// PollerConfig configures the vehicle record refresher.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the status HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

// Default returns a configuration with every default applied and no URLs.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}
