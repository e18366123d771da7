package config

import (
	"time"

	"github.com/rickgao/shardgate/internal/gateway"
)

// Config is the root configuration for a shardgate instance.
type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// Sharding modes.
const (
	ShardingAuto  = "auto"
	ShardingFixed = "fixed"
)

// BotConfig identifies the bot and how many shards it runs.
type BotConfig struct {
	Token      string   `yaml:"token"`
	Intents    []string `yaml:"intents"`     // Intent catalog names, e.g. GUILD_MESSAGES
	Sharding   string   `yaml:"sharding"`    // "auto" or "fixed"
	ShardCount int      `yaml:"shard_count"` // Required when sharding is "fixed"
}

// ParsedIntents returns the configured intents as a gateway bitmask.
func (b BotConfig) ParsedIntents() (gateway.Intents, error) {
	return gateway.ParseIntents(b.Intents)
}

// APIConfig holds REST API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// GatewayConfig holds websocket gateway settings.
type GatewayConfig struct {
	Version          int           `yaml:"version"`
	BucketCooldown   time.Duration `yaml:"bucket_cooldown"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	CommandBuffer    int           `yaml:"command_buffer"`
	EventBuffer      int           `yaml:"event_buffer"`
	SendLimit        int           `yaml:"send_limit"`    // Frames allowed per send_window
	SendWindow       time.Duration `yaml:"send_window"`   // Window for send_limit
	PollInterval     time.Duration `yaml:"poll_interval"` // Gateway metadata and heartbeat health checks
}

// DatabaseConfig holds the optional shard-state journal database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
