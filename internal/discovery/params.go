package discovery

import (
	"net/url"
	"strings"

	"github.com/jonesrussell/north-cloud/discovery/internal/daterange"
)

// Request parameter names.
const (
	ParamQuery   = "query"
	ParamFilter  = "fq"
	ParamRPP     = "rpp"
	ParamPage    = "page"
	ParamSortBy  = "sort_by"
	ParamOrder   = "order"
	ParamGroupBy = "group_by"

	ParamTimeType  = "time_type"
	ParamTimeStart = "time_start"
	ParamTimeEnd   = "time_end"

	groupByNone = "none"
)

// Params are the caller's discovery parameters after sentinel handling.
// RPP and Page stay raw so that Build can apply their parse rules.
type Params struct {
	// Query is nil for match-all.
	Query         *string
	FilterQueries []string
	RPP           string
	Page          string
	SortBy        *string
	Order         *string
	// GroupBy is nil when grouping is off.
	GroupBy *string
	// DateRange adds a time:[A TO B] filter after the caller's filters.
	DateRange *daterange.Spec
}

// ParseParams reads url values. A blank query becomes nil and a group_by of
// "none" (any case) disables grouping.
func ParseParams(values url.Values) Params {
	p := Params{
		RPP:     values.Get(ParamRPP),
		Page:    values.Get(ParamPage),
		SortBy:  optional(values.Get(ParamSortBy)),
		Order:   optional(values.Get(ParamOrder)),
		GroupBy: optional(values.Get(ParamGroupBy)),
		Query:   optional(values.Get(ParamQuery)),
	}
	if p.GroupBy != nil && strings.EqualFold(*p.GroupBy, groupByNone) {
		p.GroupBy = nil
	}
	if tt := values.Get(ParamTimeType); strings.TrimSpace(tt) != "" {
		p.DateRange = daterange.NewSpec(tt, values.Get(ParamTimeStart), values.Get(ParamTimeEnd))
	}
	for _, fq := range values[ParamFilter] {
		if strings.TrimSpace(fq) != "" {
			p.FilterQueries = append(p.FilterQueries, fq)
		}
	}
	return p
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
