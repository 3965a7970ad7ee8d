// Package cli implements discoverctl, a tool for previewing date ranges,
// discovery queries and feed links without running the service.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	infraconfig "github.com/jonesrussell/north-cloud/discovery/infrastructure/config"
	"github.com/jonesrussell/north-cloud/discovery/internal/config"
	"github.com/jonesrussell/north-cloud/discovery/internal/discovery"
	"github.com/jonesrussell/north-cloud/discovery/internal/feed"
)

// options are shared by every subcommand.
type options struct {
	configPath string
	now        func() time.Time
}

// NewRootCommand builds the discoverctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{now: time.Now})
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "discoverctl",
		Short:         "Inspect discovery queries, date ranges and feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"service config file (default $CONFIG_PATH; built-in defaults when unset)")

	root.AddCommand(
		newDateRangeCommand(opts),
		newQueryCommand(opts),
		newFeedLinksCommand(opts),
	)
	return root
}

// Execute runs discoverctl with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig returns nil when no config file was given.
func (o *options) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = infraconfig.GetConfigPath("")
	}
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (o *options) discoveryConfigs() (discovery.Configs, error) {
	cfg, err := o.loadConfig()
	if err != nil || cfg == nil {
		return discovery.Configs{}, err
	}
	return cfg.Discovery, nil
}

func (o *options) feedConfig() (feed.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return feed.Config{}, err
	}
	if cfg == nil {
		fc := feed.Config{}
		fc.SetDefaults()
		return fc, nil
	}
	return cfg.Feed, nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}
