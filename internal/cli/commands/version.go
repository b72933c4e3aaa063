package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the redcapetl version, the Go runtime and the registered load targets.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "redcapetl v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "REDCap ETL built with %s\n", runtime.Version())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Targets: %s\n", strings.Join(adapter.ListAdapters(), ", "))
		},
	}
}
