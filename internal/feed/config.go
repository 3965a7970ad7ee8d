package feed

import (
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
)

// Defaults.
const (
	DefaultItemCount = 4
	DefaultCacheSize = 1024
)

// DefaultFormats are the feed formats offered when none are configured.
var DefaultFormats = []string{"rss_1.0", "rss_2.0", "atom_1.0"}

// Config controls feed generation and caching.
type Config struct {
	// ItemCount caps the items per feed.
	ItemCount int      `yaml:"item_count"         env:"FEED_ITEM_COUNT"`
	Formats   []string `yaml:"formats"            env:"FEED_FORMATS"`
	// CacheTTLHours is the trust window of a generated feed.
	CacheTTLHours int `yaml:"cache_ttl_hours"    env:"FEED_CACHE_TTL_HOURS"`
	CacheSize     int `yaml:"cache_size"`
	// RecentSort orders non-discover feeds, newest first.
	RecentSort discovery.SortFieldConfig `yaml:"recent_sort"`
	// IncludeRestricted skips the anonymous-read filter.
	IncludeRestricted bool   `yaml:"include_restricted" env:"FEED_INCLUDE_RESTRICTED"`
	ContextPath       string `yaml:"context_path"`
}

// SetDefaults fills in unset values.
func (c *Config) SetDefaults() {
	if c.ItemCount <= 0 {
		c.ItemCount = DefaultItemCount
	}
	if len(c.Formats) == 0 {
		c.Formats = DefaultFormats
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.RecentSort.MetadataField == "" {
		c.RecentSort = discovery.SortFieldConfig{MetadataField: "dc.date.accessioned", Type: discovery.SortTypeDate}
	}
}
