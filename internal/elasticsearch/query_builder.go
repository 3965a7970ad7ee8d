// Package elasticsearch runs discovery query descriptors against the item index.
package elasticsearch

import (
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
)

// Index field names.
const (
	fieldResourceID   = "resource_id"
	fieldHandle       = "handle"
	fieldTitle        = "dc.title"
	fieldLastModified = "last_modified"
	fieldArchived     = "archived"
	fieldWithdrawn    = "withdrawn"
	fieldDiscoverable = "discoverable"
	fieldLocation     = "location"

	collapsedInnerHits = "collapsed"
	collapsedHitsSize  = 10
	suggestionName     = "spellcheck"
	relevanceSortField = "_score"
)

// sourceFields are the document fields hits are built from.
var sourceFields = []string{
	fieldResourceID, fieldHandle, fieldTitle, fieldLastModified,
	fieldArchived, fieldWithdrawn, fieldDiscoverable,
}

// QueryBuilder renders a QueryDescriptor as an Elasticsearch search body.
type QueryBuilder struct {
	spellCheckField string
}

// NewQueryBuilder creates a builder. spellCheckField feeds the term suggester.
func NewQueryBuilder(spellCheckField string) *QueryBuilder {
	return &QueryBuilder{spellCheckField: spellCheckField}
}

// Build returns the search body. scope restricts hits to a community or
// collection handle; empty means repository-wide.
func (qb *QueryBuilder) Build(d *discovery.QueryDescriptor, scope string) map[string]any {
	body := map[string]any{
		"query":            qb.buildBoolQuery(d, scope),
		"from":             d.Start,
		"size":             d.MaxResults,
		"sort":             buildSort(d),
		"_source":          sourceFields,
		"track_total_hits": true,
	}

	if d.Collapse != nil {
		body["collapse"] = buildCollapse(d.Collapse)
	}
	if len(d.HighlightFields) > 0 {
		body["highlight"] = buildHighlight(d.HighlightFields)
	}
	if d.SpellCheck && d.Query != nil && qb.spellCheckField != "" {
		body["suggest"] = map[string]any{
			suggestionName: map[string]any{
				"text": *d.Query,
				"term": map[string]any{"field": qb.spellCheckField},
			},
		}
	}
	return body
}

// buildBoolQuery puts the free text in must and every filter query, each a
// Lucene-syntax fragment such as time:[A TO B], in filter.
func (qb *QueryBuilder) buildBoolQuery(d *discovery.QueryDescriptor, scope string) map[string]any {
	var must any = map[string]any{"match_all": map[string]any{}}
	if d.Query != nil {
		must = map[string]any{
			"query_string": map[string]any{
				"query":            *d.Query,
				"default_operator": "AND",
			},
		}
	}

	filters := make([]any, 0, len(d.FilterQueries)+1)
	for _, fq := range d.FilterQueries {
		filters = append(filters, map[string]any{
			"query_string": map[string]any{"query": fq},
		})
	}
	if scope != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{fieldLocation: scope},
		})
	}

	return map[string]any{
		"bool": map[string]any{
			"must":   []any{must},
			"filter": filters,
		},
	}
}

func buildSort(d *discovery.QueryDescriptor) []any {
	field := d.SortField
	if field == discovery.ScoreSortField {
		field = relevanceSortField
	}
	return []any{
		map[string]any{field: map[string]any{"order": string(d.SortOrder)}},
	}
}

// buildCollapse keeps one hit per value. Aggregations in Elasticsearch are
// computed before collapsing, which is the facet mode the descriptor asks for.
func buildCollapse(c *discovery.Collapse) map[string]any {
	return map[string]any{
		"field": c.Field,
		"inner_hits": map[string]any{
			"name":    collapsedInnerHits,
			"size":    collapsedHitsSize,
			"_source": c.IncludeFields,
		},
	}
}

func buildHighlight(fields []discovery.HighlightField) map[string]any {
	hf := make(map[string]any, len(fields))
	for _, f := range fields {
		opts := map[string]any{"number_of_fragments": f.SnippetCount}
		if f.MaxFragmentSize > 0 {
			opts["fragment_size"] = f.MaxFragmentSize
		}
		hf[f.Field] = opts
	}
	return map[string]any{"fields": hf}
}
