package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/missionctl/internal/dashboard"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Mission Control API server",
		Long:  "Serves the JSON API for the Mission Control dashboard: loop state, daily summaries, accountability breakdowns, and unresolved alerts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return dashboard.Start(ctx, dashboard.StartOpts{
		DB:   gormDB,
		Port: port,
		Loc:  cfg.Location(),
		Out:  cmd.OutOrStdout(),
	})
}
