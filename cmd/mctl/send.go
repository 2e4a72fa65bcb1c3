package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/missionctl/internal/alert"
	"github.com/zulandar/missionctl/internal/config"
	"github.com/zulandar/missionctl/internal/loop"
	"github.com/zulandar/missionctl/internal/messaging"
	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/sla"
	"gorm.io/gorm"
)

// buildTracker wires the loop tracker to an alert dispatcher that records
// alerts in the database. CLI invocations don't push to chat channels; the
// sweep daemon owns outbound notification.
func buildTracker(cfg *config.Config, gormDB *gorm.DB) (*loop.Tracker, error) {
	policy := sla.FromConfig(cfg.SLA)

	dispatcher, err := alert.NewDispatcher(gormDB, policy)
	if err != nil {
		return nil, err
	}

	return loop.NewTracker(gormDB, policy, loop.Hooks{
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
}

func newSendCmd() *cobra.Command {
	var (
		configPath string
		from       string
		to         string
		priority   string
	)

	cmd := &cobra.Command{
		Use:   "send <content>",
		Short: "Record a message between agents",
		Long:  "Records a message from one agent to another. A directed message opens an accountability loop; a message back from the recipient closes the reply stage of their oldest open loop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, configPath, from, to, priority, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&from, "from", "", "sending agent")
	cmd.Flags().StringVar(&to, "to", "", "receiving agent")
	cmd.Flags().StringVar(&priority, "priority", "normal", "message priority (normal, high, urgent)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runSend(cmd *cobra.Command, configPath, from, to, priority, content string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	msg, err := messaging.Send(gormDB, from, to, content, messaging.SendOpts{
		Priority: models.Priority(priority),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent message %d to %s\n", msg.ID, to)

	tracker, err := buildTracker(cfg, gormDB)
	if err != nil {
		return err
	}

	l, err := tracker.HandleMessage(msg)
	if err != nil {
		return err
	}
	switch {
	case l == nil:
	case l.OriginMessageID == msg.ID:
		fmt.Fprintf(out, "Opened loop %d (%s owes a reply)\n", l.ID, to)
	default:
		fmt.Fprintf(out, "Loop %d advanced to %s\n", l.ID, l.CurrentStage)
	}
	return nil
}

func newEventCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		loopID     uint
	)

	cmd := &cobra.Command{
		Use:   "event <action|report>",
		Short: "Record a follow-up event against an open loop",
		Long:  "Records an action or report event. With --loop the event targets that loop; otherwise it is matched to the oldest open loop the agent is accountable for.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvent(cmd, configPath, args[0], agent, loopID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&agent, "agent", "", "acting agent")
	cmd.Flags().UintVar(&loopID, "loop", 0, "explicit loop id")
	return cmd
}

func runEvent(cmd *cobra.Command, configPath, kind, agent string, loopID uint) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	tracker, err := buildTracker(cfg, gormDB)
	if err != nil {
		return err
	}

	l, err := tracker.HandleEvent(loop.Event{
		Kind:   loop.EventKind(kind),
		Agent:  agent,
		LoopID: loopID,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if l == nil {
		fmt.Fprintf(out, "No open loop matched the %s event\n", kind)
		return nil
	}
	fmt.Fprintf(out, "Loop %d is now %s\n", l.ID, l.CurrentStage)
	return nil
}

func newBreakCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "break <loop-id>",
		Short: "Break a loop by operator override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBreak(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runBreak(cmd *cobra.Command, configPath, rawID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid loop id %q", rawID)
	}

	tracker, err := buildTracker(cfg, gormDB)
	if err != nil {
		return err
	}

	l, err := tracker.MarkBroken(uint(id), time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loop %d broken (%s)\n", l.ID, l.BrokenReason)
	return nil
}

func newResolveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resolve <loop-id>",
		Short: "Resolve all alerts raised against a loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runResolve(cmd *cobra.Command, configPath, rawID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid loop id %q", rawID)
	}

	dispatcher, err := alert.NewDispatcher(gormDB, sla.FromConfig(cfg.SLA))
	if err != nil {
		return err
	}
	if err := dispatcher.OnResolve(uint(id)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved alerts for loop %d\n", id)
	return nil
}
