package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/missionctl/internal/alert"
	"github.com/zulandar/missionctl/internal/config"
	"github.com/zulandar/missionctl/internal/gitfeed"
	"github.com/zulandar/missionctl/internal/loop"
	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/notify/discord"
	"github.com/zulandar/missionctl/internal/notify/slack"
	"github.com/zulandar/missionctl/internal/sla"
	"github.com/zulandar/missionctl/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Start the timeout sweeper daemon",
		Long:  "Runs the background daemon: breaks loops whose stage budgets have expired, raises alerts to the configured channels, posts the daily digest, and feeds GitHub commit activity into open loops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	policy := sla.FromConfig(cfg.SLA)

	notifiers, posters, err := buildNotifiers(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Alert notifiers: %d configured\n", len(notifiers))

	dispatcher, err := alert.NewDispatcher(gormDB, policy, notifiers...)
	if err != nil {
		return err
	}

	tracker, err := loop.NewTracker(gormDB, policy, loop.Hooks{
		OnBreach: func(l models.Loop, reason models.BreakReason) {
			if _, err := dispatcher.OnBreach(l, reason); err != nil {
				log.Printf("dispatch breach for loop %d: %v", l.ID, err)
			}
		},
		OnResolve: func(loopID uint) {
			if err := dispatcher.OnResolve(loopID); err != nil {
				log.Printf("resolve alerts for loop %d: %v", loopID, err)
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if cfg.GitHub.Repo != "" {
		feed, err := gitfeed.New(gitfeed.Opts{
			Token:    cfg.GitHub.Token,
			Owner:    cfg.GitHub.Owner,
			Repo:     cfg.GitHub.Repo,
			AgentMap: cfg.GitHub.AgentMap,
			Tracker:  tracker,
		})
		if err != nil {
			return err
		}
		go feed.Run(ctx, cfg.GitHub.PollInterval.Std(), out)
	}

	return sweep.RunDaemon(ctx, sweep.Opts{
		DB:           gormDB,
		Tracker:      tracker,
		PollInterval: cfg.Sweep.PollInterval.Std(),
		DigestCron:   cfg.Sweep.DigestCron,
		Loc:          cfg.Location(),
		Posters:      posters,
		Out:          out,
	})
}

// buildNotifiers creates one notifier per configured channel. Channels with
// an empty token are skipped.
func buildNotifiers(cfg *config.Config) ([]alert.Notifier, []sweep.Poster, error) {
	var notifiers []alert.Notifier
	var posters []sweep.Poster

	if cfg.Notify.Slack.Token != "" {
		n, err := slack.New(slack.Opts{
			Token:     cfg.Notify.Slack.Token,
			ChannelID: cfg.Notify.Slack.Channel,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, n)
		posters = append(posters, n)
	}

	if cfg.Notify.Discord.Token != "" {
		n, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.Token,
			ChannelID: cfg.Notify.Discord.Channel,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, n)
		posters = append(posters, n)
	}

	return notifiers, posters, nil
}
