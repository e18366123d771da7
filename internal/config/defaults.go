package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "https://discord.com/api/v10"
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultSharding         = ShardingAuto
	DefaultGatewayVersion   = 10
	DefaultBucketCooldown   = 5 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultCommandBuffer    = 32
	DefaultEventBuffer      = 64
	DefaultSendLimit        = 120
	DefaultSendWindow       = 60 * time.Second
	DefaultPollInterval     = 10 * time.Minute
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Bot defaults
	if c.Bot.Sharding == "" {
		c.Bot.Sharding = DefaultSharding
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Gateway defaults
	if c.Gateway.Version == 0 {
		c.Gateway.Version = DefaultGatewayVersion
	}
	if c.Gateway.BucketCooldown == 0 {
		c.Gateway.BucketCooldown = DefaultBucketCooldown
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.CommandBuffer == 0 {
		c.Gateway.CommandBuffer = DefaultCommandBuffer
	}
	if c.Gateway.EventBuffer == 0 {
		c.Gateway.EventBuffer = DefaultEventBuffer
	}
	if c.Gateway.SendLimit == 0 {
		c.Gateway.SendLimit = DefaultSendLimit
	}
	if c.Gateway.SendWindow == 0 {
		c.Gateway.SendWindow = DefaultSendWindow
	}
	if c.Gateway.PollInterval == 0 {
		c.Gateway.PollInterval = DefaultPollInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
