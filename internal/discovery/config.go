package discovery

// SortFieldConfig declares one sortable metadata field.
type SortFieldConfig struct {
	MetadataField string `yaml:"metadata_field"`
	// Type selects the index representation, "date" or "text".
	Type    string `yaml:"type"`
	Default bool   `yaml:"default"`
}

// SortConfig declares the sort options of a discovery configuration.
type SortConfig struct {
	Fields       []SortFieldConfig `yaml:"fields"`
	DefaultOrder string            `yaml:"default_order"`
}

// HighlightFieldConfig declares one field to highlight in hits.
type HighlightFieldConfig struct {
	Field    string `yaml:"field"`
	MaxSize  int    `yaml:"max_size"`
	Snippets int    `yaml:"snippets"`
}

// Config is the discovery configuration of one scope.
type Config struct {
	DefaultFilterQueries []string               `yaml:"default_filter_queries"`
	Sort                 SortConfig             `yaml:"sort"`
	HighlightFields      []HighlightFieldConfig `yaml:"highlight_fields"`
	SpellCheck           bool                   `yaml:"spell_check"`
}

// DefaultSortField returns the field flagged as default, if any.
func (c Config) DefaultSortField() (SortFieldConfig, bool) {
	for _, f := range c.Sort.Fields {
		if f.Default {
			return f, true
		}
	}
	return SortFieldConfig{}, false
}

// Configs maps scope handles to their discovery configuration.
type Configs struct {
	Default Config            `yaml:"default"`
	Scopes  map[string]Config `yaml:"scopes"`
}

// For returns the configuration of handle, or the default one.
func (c Configs) For(handle string) Config {
	if cfg, ok := c.Scopes[handle]; ok {
		return cfg
	}
	return c.Default
}
