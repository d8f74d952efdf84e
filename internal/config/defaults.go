package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRealtimePath         = "/realtime"
	DefaultReconnectionAttempts = 3
	DefaultReconnectionDelay    = 1 * time.Second
	DefaultReconnectionDelayMax = 5 * time.Second
	DefaultRealtimeTimeout      = 20 * time.Second
	DefaultPingInterval         = 25 * time.Second
	DefaultPingTimeout          = 20 * time.Second
	DefaultRoomType             = "client"
	DefaultMaxConnectAttempts   = 5
	DefaultAPITimeout           = 30 * time.Second
	DefaultAPIRetries           = 3
	DefaultAPIRetryBackoff      = 100 * time.Millisecond
	DefaultWatchMaxAttempts     = 5
	DefaultWatchSweepInterval   = 30 * time.Second
	DefaultWatchConnectTimeout  = 20 * time.Second
	DefaultPollInterval         = 5 * time.Minute
	DefaultPollConcurrency      = 4
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

// DefaultTransports is the transport preference order.
var DefaultTransports = []string{"websocket", "polling"}

func (c *Config) applyDefaults() {
	// Realtime defaults
	r := &c.Realtime
	if r.Path == "" {
		r.Path = DefaultRealtimePath
	}
	if len(r.Transports) == 0 {
		r.Transports = append([]string(nil), DefaultTransports...)
	}
	if r.ReconnectionAttempts == 0 {
		r.ReconnectionAttempts = DefaultReconnectionAttempts
	}
	if r.ReconnectionDelay == 0 {
		r.ReconnectionDelay = DefaultReconnectionDelay
	}
	if r.ReconnectionDelayMax == 0 {
		r.ReconnectionDelayMax = DefaultReconnectionDelayMax
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultRealtimeTimeout
	}
	if r.PingInterval == 0 {
		r.PingInterval = DefaultPingInterval
	}
	if r.PingTimeout == 0 {
		r.PingTimeout = DefaultPingTimeout
	}
	if r.RoomType == "" {
		r.RoomType = DefaultRoomType
	}
	if r.MaxConnectAttempts == 0 {
		r.MaxConnectAttempts = DefaultMaxConnectAttempts
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.Retries == 0 {
		c.API.Retries = DefaultAPIRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultAPIRetryBackoff
	}

	// Watch defaults
	if c.Watch.MaxAttempts == 0 {
		c.Watch.MaxAttempts = DefaultWatchMaxAttempts
	}
	if c.Watch.SweepInterval == 0 {
		c.Watch.SweepInterval = DefaultWatchSweepInterval
	}
	if c.Watch.ConnectTimeout == 0 {
		c.Watch.ConnectTimeout = DefaultWatchConnectTimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
