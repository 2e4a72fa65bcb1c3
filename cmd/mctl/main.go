package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mctl",
		Short: "Mission Control: agent loop accountability",
		Long:  "Mission Control tracks request loops between agents, breaks the ones that blow their SLA budgets, and reports who closes their loops.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newEventCmd())
	cmd.AddCommand(newBreakCmd())
	cmd.AddCommand(newResolveCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
