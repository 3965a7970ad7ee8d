// Package discovery turns request parameters and a scope's discovery
// configuration into a QueryDescriptor.
package discovery

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/discovery/internal/daterange"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// SortOrder is ASC or DESC.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Fixed directives.
const (
	// ScoreSortField sorts by relevance.
	ScoreSortField = "score"
	// TypeSortField is forced ascending whenever results are collapsed.
	TypeSortField = "dc.type"

	CollapseThreshold  = 1
	CollapseHandleList = "handle"
	FacetModeBefore    = "before"
)

// Collapse keeps at most one representative per value of Field.
type Collapse struct {
	Field     string `json:"field"`
	Threshold int    `json:"threshold"`
	// IncludeFields lists the fields returned for collapsed documents.
	IncludeFields []string `json:"include_fields"`
	FacetMode     string   `json:"facet_mode"`
}

// HighlightField asks for snippets of one field.
type HighlightField struct {
	Field           string `json:"field"`
	MaxFragmentSize int    `json:"max_fragment_size"`
	SnippetCount    int    `json:"snippet_count"`
}

// QueryDescriptor is one discovery search request.
type QueryDescriptor struct {
	Query           *string          `json:"query,omitempty"`
	FilterQueries   []string         `json:"filter_queries"`
	SortField       string           `json:"sort_field"`
	SortOrder       SortOrder        `json:"sort_order"`
	Start           int              `json:"start"`
	MaxResults      int              `json:"max_results"`
	Collapse        *Collapse        `json:"collapse,omitempty"`
	HighlightFields []HighlightField `json:"highlight_fields,omitempty"`
	SpellCheck      bool             `json:"spell_check"`
}

// Builder assembles descriptors. It is safe for concurrent use.
type Builder struct {
	registry SortFieldRegistry
	now      func() time.Time
	logger   infralogger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock used to resolve relative date ranges.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithLogger sets the logger for recoverable parameter problems.
func WithLogger(log infralogger.Logger) Option {
	return func(b *Builder) { b.logger = log }
}

// NewBuilder creates a builder. A nil registry uses IndexSortFields.
func NewBuilder(registry SortFieldRegistry, opts ...Option) *Builder {
	if registry == nil {
		registry = IndexSortFields{}
	}
	b := &Builder{registry: registry, now: time.Now, logger: infralogger.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SortKey resolves a configured sort field through the registry.
func (b *Builder) SortKey(f SortFieldConfig) string {
	return b.registry.SortFieldIndex(f.MetadataField, f.Type)
}

// Build applies the parameter precedence rules. Only a missing, unparseable
// or negative rpp is an error; every other field falls back to a default.
func (b *Builder) Build(params Params, cfg Config) (*QueryDescriptor, error) {
	maxResults, err := strconv.Atoi(strings.TrimSpace(params.RPP))
	if err != nil || maxResults < 0 {
		return nil, fmt.Errorf("%w: rpp=%q", domain.ErrInvalidPageSize, params.RPP)
	}

	d := &QueryDescriptor{
		Query:      params.Query,
		MaxResults: maxResults,
		Start:      pageStart(params.Page, maxResults),
		SortField:  b.sortField(params.SortBy, cfg),
		SortOrder:  sortOrder(params.Order, cfg.Sort.DefaultOrder),
		SpellCheck: cfg.SpellCheck,
	}

	d.FilterQueries = make([]string, 0, len(cfg.DefaultFilterQueries)+len(params.FilterQueries))
	d.FilterQueries = append(d.FilterQueries, cfg.DefaultFilterQueries...)
	d.FilterQueries = append(d.FilterQueries, params.FilterQueries...)
	if frag := b.dateRange(params.DateRange); !frag.Empty() {
		d.FilterQueries = append(d.FilterQueries, string(frag))
	}

	if params.GroupBy != nil {
		d.Collapse = &Collapse{
			Field:         *params.GroupBy,
			Threshold:     CollapseThreshold,
			IncludeFields: []string{CollapseHandleList},
			FacetMode:     FacetModeBefore,
		}
		d.SortField = TypeSortField
		d.SortOrder = SortAsc
	}

	for _, hf := range cfg.HighlightFields {
		d.HighlightFields = append(d.HighlightFields, HighlightField{
			Field:           hf.Field,
			MaxFragmentSize: hf.MaxSize,
			SnippetCount:    hf.Snippets,
		})
	}

	return d, nil
}

// dateRange compiles the optional time window. Problems are logged and the
// compiler's degraded or empty fragment is used as is.
func (b *Builder) dateRange(spec *daterange.Spec) daterange.Fragment {
	if spec == nil {
		return ""
	}
	frag, err := daterange.Compile(spec, b.now())
	if err != nil {
		b.logger.Warn("Date range filter degraded",
			infralogger.String("granularity", string(spec.Granularity)),
			infralogger.String("fragment", string(frag)),
			infralogger.Error(err),
		)
	}
	return frag
}

// pageStart treats an unparseable page, or one whose offset overflows, as page 1.
func pageStart(page string, maxResults int) int {
	n, err := strconv.Atoi(strings.TrimSpace(page))
	if err != nil || n <= 1 {
		return 0
	}
	if maxResults > 0 && n-1 > math.MaxInt/maxResults {
		return 0
	}
	return (n - 1) * maxResults
}

func (b *Builder) sortField(explicit *string, cfg Config) string {
	if explicit != nil {
		return *explicit
	}
	if f, ok := cfg.DefaultSortField(); ok {
		return b.SortKey(f)
	}
	return ScoreSortField
}

// sortOrder recognizes only "asc"; anything else, including nothing, is DESC.
func sortOrder(explicit *string, configured string) SortOrder {
	order := configured
	if explicit != nil {
		order = *explicit
	}
	if strings.EqualFold(strings.TrimSpace(order), string(SortAsc)) {
		return SortAsc
	}
	return SortDesc
}
