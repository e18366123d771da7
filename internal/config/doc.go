// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how the bot token is normally supplied:
//
//	bot:
//	  token: ${SHARDGATE_TOKEN}
//	  intents: [GUILDS, GUILD_MESSAGES]
//	  sharding: auto
package config
