package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/elasticsearch"
)

func newQueryCommand(opts *options) *cobra.Command {
	var (
		params     []string
		scope      string
		showSearch bool
		spellField string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Show the query descriptor built from request parameters",
		Long: `Build a discovery query descriptor from key=value request parameters.

Examples:
  discoverctl query --param rpp=10 --param page=3 --param query=maps
  discoverctl query -p rpp=5 -p group_by=handle -p fq=author:smith --elasticsearch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			configs, err := opts.discoveryConfigs()
			if err != nil {
				return err
			}

			builder := discovery.NewBuilder(discovery.IndexSortFields{}, discovery.WithClock(opts.now))
			p := discovery.ParseParams(values)
			d, err := builder.Build(p, configs.For(scope))
			if err != nil {
				return err
			}

			if showSearch {
				body := elasticsearch.NewQueryBuilder(spellField).Build(d, scope)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(body)
			}

			renderDescriptor(cmd, d, describe(p.DateRange))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&scope, "scope", "", "community or collection handle")
	cmd.Flags().BoolVar(&showSearch, "elasticsearch", false, "print the Elasticsearch request body instead")
	cmd.Flags().StringVar(&spellField, "spellcheck-field", "", "field used for spelling suggestions")
	return cmd
}

func parseParams(raw []string) (url.Values, error) {
	values := url.Values{}
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", kv)
		}
		values.Add(k, v)
	}
	return values, nil
}

func renderDescriptor(cmd *cobra.Command, d *discovery.QueryDescriptor, dateRange string) {
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Field", "Value"})

	query := "*:*"
	if d.Query != nil {
		query = *d.Query
	}
	t.AppendRow(table.Row{"query", query})
	t.AppendRow(table.Row{"start", strconv.Itoa(d.Start)})
	t.AppendRow(table.Row{"max_results", strconv.Itoa(d.MaxResults)})
	t.AppendRow(table.Row{"sort", d.SortField + " " + string(d.SortOrder)})
	for i, fq := range d.FilterQueries {
		t.AppendRow(table.Row{fmt.Sprintf("filter[%d]", i), fq})
	}
	if dateRange != "" {
		t.AppendRow(table.Row{"date_range", dateRange})
	}
	if d.Collapse != nil {
		t.AppendRow(table.Row{"collapse", fmt.Sprintf("%s (threshold %d)", d.Collapse.Field, d.Collapse.Threshold)})
	}
	for _, hf := range d.HighlightFields {
		t.AppendRow(table.Row{"highlight", fmt.Sprintf("%s size=%d snippets=%d", hf.Field, hf.MaxFragmentSize, hf.SnippetCount)})
	}
	t.AppendRow(table.Row{"spellcheck", strconv.FormatBool(d.SpellCheck)})
	t.Render()
}
