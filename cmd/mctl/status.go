package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/missionctl/internal/report"
	"golang.org/x/term"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the loop accountability status board",
		Long:  "Displays today's summary, the per-agent accountability table, and unresolved alerts. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	for {
		text, err := report.FormatStatus(gormDB, time.Now(), cfg.Location())
		if err != nil {
			return err
		}

		if watch && isTTY {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}

		fmt.Fprint(out, text)

		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}
