package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/shardgate/internal/config"
	"github.com/rickgao/shardgate/internal/version"
)

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		port,
		cfg.Name,
		sslMode,
		version.Name,
	)
}
