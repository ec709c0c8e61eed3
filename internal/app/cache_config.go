package app

import (
	"strings"

	"github.com/charlesng35/inspectsync/internal/cache"
	"github.com/charlesng35/inspectsync/internal/database"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// DatabaseClientConfig converts the database section for database.Open.
func (d DatabaseConfig) DatabaseClientConfig() database.Config {
	return database.Config{
		Driver:   strings.ToLower(strings.TrimSpace(d.Driver)),
		Path:     strings.TrimSpace(d.Path),
		DSN:      strings.TrimSpace(d.DSN),
		Host:     strings.TrimSpace(d.Host),
		Port:     d.Port,
		Name:     strings.TrimSpace(d.Name),
		User:     strings.TrimSpace(d.User),
		Password: d.Password,
		Options:  d.Options,
	}
}
