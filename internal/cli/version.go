package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/chancetop/aistream-go/internal/cli.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show aistream build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "aistream %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			return nil
		},
	}
}
