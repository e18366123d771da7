package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if _, err := c.Bot.ParsedIntents(); err != nil {
		return fmt.Errorf("bot.intents: %w", err)
	}
	switch c.Bot.Sharding {
	case ShardingAuto:
	case ShardingFixed:
		if c.Bot.ShardCount < 1 {
			return errors.New("bot.shard_count must be >= 1 when sharding is fixed")
		}
	default:
		return fmt.Errorf("bot.sharding must be %q or %q, got %q", ShardingAuto, ShardingFixed, c.Bot.Sharding)
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Gateway.Version < 1 {
		return errors.New("gateway.version must be >= 1")
	}
	if c.Gateway.BucketCooldown < 0 {
		return errors.New("gateway.bucket_cooldown must be >= 0")
	}
	if c.Gateway.CommandBuffer < 1 {
		return errors.New("gateway.command_buffer must be >= 1")
	}
	if c.Gateway.EventBuffer < 1 {
		return errors.New("gateway.event_buffer must be >= 1")
	}
	if c.Gateway.SendLimit < 1 {
		return errors.New("gateway.send_limit must be >= 1")
	}
	if c.Gateway.SendWindow <= 0 {
		return errors.New("gateway.send_window must be > 0")
	}
	if c.Gateway.PollInterval <= 0 {
		return errors.New("gateway.poll_interval must be > 0")
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
