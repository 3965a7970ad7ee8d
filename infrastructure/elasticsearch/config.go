package elasticsearch

import (
	"time"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/retry"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	URL      string `env:"ELASTICSEARCH_URL"      yaml:"url"`
	Username string `env:"ELASTICSEARCH_USERNAME" yaml:"username"`
	Password string `env:"ELASTICSEARCH_PASSWORD" yaml:"password"` //nolint:gosec // connection config
	APIKey   string `env:"ELASTICSEARCH_API_KEY"  yaml:"api_key"`

	TLS *TLSConfig `yaml:"tls"`

	// MaxRetries is the transport-level retry count for individual requests.
	MaxRetries  int           `yaml:"max_retries"`
	PingTimeout time.Duration `yaml:"ping_timeout"`

	// RetryConfig drives the startup connection check.
	RetryConfig *retry.Config `yaml:"-"`
}

// TLSConfig holds TLS settings for the cluster connection.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = "http://localhost:9200"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.RetryConfig == nil || c.RetryConfig.MaxAttempts == 0 {
		c.RetryConfig = &retry.Config{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		}
	}
}
