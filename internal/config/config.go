// Package config loads the discovery service configuration.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/discovery/infrastructure/config"
	infraes "github.com/jonesrussell/north-cloud/discovery/infrastructure/elasticsearch"
	"github.com/jonesrussell/north-cloud/discovery/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

// Config holds all configuration for the discovery service.
type Config struct {
	Service       ServiceConfig              `yaml:"service"`
	Elasticsearch ElasticsearchConfig        `yaml:"elasticsearch"`
	Redis         RedisConfig                `yaml:"redis"`
	Database      infraconfig.DatabaseConfig `yaml:"database"`
	Discovery     discovery.Configs          `yaml:"discovery"`
	Feed          feed.Config                `yaml:"feed"`
	Auth          AuthConfig                 `yaml:"auth"`
	Logging       infraconfig.LoggingConfig  `yaml:"logging"`
	CORS          CORSConfig                 `yaml:"cors"`
	Profiling     profiling.Config           `yaml:"profiling"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `yaml:"port"    env:"DISCOVERY_PORT"`
	Debug   bool   `yaml:"debug"   env:"DISCOVERY_DEBUG"`
}

// ElasticsearchConfig adds search settings to the connection settings.
type ElasticsearchConfig struct {
	infraes.Config `yaml:",inline"`

	Index           string        `yaml:"index"             env:"ELASTICSEARCH_INDEX"`
	SpellCheckField string        `yaml:"spellcheck_field"`
	SearchTimeout   time.Duration `yaml:"search_timeout"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around search calls.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RedisConfig enables the shared artifact cache.
type RedisConfig struct {
	infraconfig.RedisConfig `yaml:",inline"`

	Enabled   bool          `yaml:"enabled"   env:"REDIS_ENABLED"`
	Retention time.Duration `yaml:"retention"`
}

// AuthConfig holds the admin API credentials.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"` //nolint:gosec // config field
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowedOrigins   []string      `yaml:"allowed_origins"   env:"CORS_ORIGINS"`
	AllowedMethods   []string      `yaml:"allowed_methods"`
	AllowedHeaders   []string      `yaml:"allowed_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// Load loads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return cfg, nil
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	// Service defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "discovery"
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = "1.0.0"
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = 8096
	}

	// Elasticsearch defaults
	cfg.Elasticsearch.SetDefaults()
	if cfg.Elasticsearch.Index == "" {
		cfg.Elasticsearch.Index = "discovery"
	}
	if cfg.Elasticsearch.SearchTimeout == 0 {
		cfg.Elasticsearch.SearchTimeout = 5 * time.Second
	}
	if cfg.Elasticsearch.Breaker.FailureThreshold == 0 {
		cfg.Elasticsearch.Breaker.FailureThreshold = 5
	}
	if cfg.Elasticsearch.Breaker.SuccessThreshold == 0 {
		cfg.Elasticsearch.Breaker.SuccessThreshold = 1
	}
	if cfg.Elasticsearch.Breaker.Timeout == 0 {
		cfg.Elasticsearch.Breaker.Timeout = 30 * time.Second
	}

	cfg.Redis.SetDefaults()
	cfg.Database.SetDefaults()
	cfg.Feed.SetDefaults()
	cfg.Logging.SetDefaults()
	cfg.Profiling.SetDefaults()

	// CORS defaults
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if c.Elasticsearch.URL == "" {
		return &infraconfig.ValidationError{Field: "elasticsearch.url", Message: "is required"}
	}
	if c.Elasticsearch.Index == "" {
		return &infraconfig.ValidationError{Field: "elasticsearch.index", Message: "is required"}
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("feed.item_count", c.Feed.ItemCount); err != nil {
		return err
	}
	for _, format := range c.Feed.Formats {
		if !slices.Contains(feed.DefaultFormats, strings.TrimSpace(format)) {
			return &infraconfig.ValidationError{Field: "feed.formats", Message: fmt.Sprintf("unsupported format %q", format)}
		}
	}
	if c.Feed.CacheTTLHours < 0 {
		return &infraconfig.ValidationError{Field: "feed.cache_ttl_hours", Message: "must not be negative"}
	}
	return c.Logging.Validate()
}
