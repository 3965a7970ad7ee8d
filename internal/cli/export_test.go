package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// NewRootCommandAt builds the command tree with a fixed clock.
func NewRootCommandAt(now time.Time) *cobra.Command {
	return newRootCommand(&options{now: func() time.Time { return now }})
}
