// Package config provides the typed application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SchedulerConfig configures the revision publisher.
type SchedulerConfig struct {
	// Collections are the target collection names the publisher sweeps.
	Collections []string `yaml:"collections"`

	// IntervalSeconds is the publish period.
	IntervalSeconds int `yaml:"interval_seconds" validate:"gte=0"`

	// LazyMigratedPublishedByDefault is the value written under
	// snapshot.published when a legacy document is migrated.
	LazyMigratedPublishedByDefault bool `yaml:"lazy_migrated_published_by_default"`
}

// CacheConfig configures the optional read-through document cache.
type CacheConfig struct {
	// Backend selects the cache implementation: "none", "memory" or "redis".
	Backend string `yaml:"backend" validate:"oneof=none memory redis"`

	// RedisAddr is the Redis address when Backend is "redis".
	RedisAddr string `yaml:"redis_addr"`

	// TTLSeconds is the time-to-live of cached documents.
	TTLSeconds int `yaml:"ttl_seconds" validate:"gte=0"`
}

// Config is the application configuration.
type Config struct {
	// MongoURI is the document store connection string.
	MongoURI string `yaml:"mongo_uri" validate:"required"`

	// Database is the MongoDB database name.
	Database string `yaml:"database" validate:"required"`

	// HTTPAddr is the listen address of the HTTP surface.
	HTTPAddr string `yaml:"http_addr"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`

	// SessionCookie names the authentication cookie the HTTP layer reads the
	// author from.
	SessionCookie string `yaml:"session_cookie"`

	// AnonymousUser is the fallback author string when unauthenticated.
	// The key keeps the historical spelling.
	AnonymousUser string `yaml:"annonymous_user"`

	// ReservedQueryStringParams are excluded when translating query strings
	// to store filters.
	ReservedQueryStringParams []string `yaml:"reserved_query_string_params"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Development switches the logger to its development configuration.
	Development bool `yaml:"development"`
}

var validate = validator.New()

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MongoURI: "mongodb://localhost:27017",
		Database: "caesium",
		HTTPAddr: ":8080",
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
		},
		Cache: CacheConfig{
			Backend:    "none",
			TTLSeconds: 3600,
		},
		SessionCookie:             "user",
		AnonymousUser:             "anonymous",
		ReservedQueryStringParams: []string{"limit", "page", "orderby", "direction", "addCurrent", "showHistory"},
		LogLevel:                  "info",
	}
}

// Load reads the configuration from a YAML file layered over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// PublishInterval returns the scheduler interval as a duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// CacheTTL returns the cache time-to-live as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
