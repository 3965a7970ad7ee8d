package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

func newFeedLinksCommand(opts *options) *cobra.Command {
	var filterQuery string

	cmd := &cobra.Command{
		Use:   "feed-links",
		Short: "List the feed links a page advertises",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.feedConfig()
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Format", "MIME Type", "URL"})
			for _, l := range feed.Links(cfg.ContextPath, cfg.Formats, filterQuery) {
				t.AppendRow(table.Row{l.Format, l.MIMEType, l.URL})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&filterQuery, "fq", "", "filter query appended to each link")
	return cmd
}
