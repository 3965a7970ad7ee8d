package cli

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/discovery/internal/daterange"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

func newDateRangeCommand(opts *options) *cobra.Command {
	var granularity, start, end string

	cmd := &cobra.Command{
		Use:   "daterange",
		Short: "Compile a relative date range into a filter fragment",
		Long: `Compile a date range the way discovery filters do.

Examples:
  # Last month up to the start of this month
  discoverctl daterange --type month --start -1 --end 0

  # Explicit calendar dates
  discoverctl daterange --type calendar-date --start 2024-01-15 --end 2024-02-01`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := daterange.NewSpec(granularity, start, end)
			frag, err := daterange.Compile(spec, opts.now())
			if errors.Is(err, domain.ErrInvalidRangeSpec) {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Granularity", "Start", "End", "Fragment"})
			t.AppendRow(table.Row{string(spec.Granularity), start, end, string(frag)})
			if err != nil {
				t.AppendRow(table.Row{"degraded", "", "", err.Error()})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&granularity, "type", "t", "day", "granularity: day, month, year or calendar-date")
	cmd.Flags().StringVarP(&start, "start", "s", "0", "start offset or YYYY-MM-DD")
	cmd.Flags().StringVarP(&end, "end", "e", "+1", "end offset or YYYY-MM-DD")
	return cmd
}

// describe is used by the query command to summarize a range.
func describe(spec *daterange.Spec) string {
	if spec == nil {
		return ""
	}
	return fmt.Sprintf("%s %s..%s", spec.Granularity, spec.StartExpr, spec.EndExpr)
}
