// Package sweep runs the background daemon that expires overdue loops and
// posts the daily digest.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zulandar/missionctl/internal/loop"
	"github.com/zulandar/missionctl/internal/report"
	"gorm.io/gorm"
)

const defaultPollInterval = 30 * time.Second

// Poster receives the rendered daily digest. Both notifier adapters
// implement it.
type Poster interface {
	Post(ctx context.Context, title, body string) error
}

// Opts configures the sweep daemon.
type Opts struct {
	DB           *gorm.DB
	Tracker      *loop.Tracker
	PollInterval time.Duration
	// DigestCron is a 5-field cron expression. Empty disables the digest.
	DigestCron string
	Loc        *time.Location
	Posters    []Poster
	Out        io.Writer
}

// RunDaemon loops until ctx is cancelled: each poll it evaluates stage
// budgets for every open loop, breaking the overdue ones, and when the
// digest timer fires it posts the status report to every poster. Breach
// alerts are raised by the tracker's hooks, not here.
func RunDaemon(ctx context.Context, opts Opts) error {
	if opts.DB == nil {
		return fmt.Errorf("sweep: db is required")
	}
	if opts.Tracker == nil {
		return fmt.Errorf("sweep: tracker is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Loc == nil {
		opts.Loc = time.UTC
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	fmt.Fprintf(out, "Sweep daemon starting (poll every %s)...\n", opts.PollInterval)

	var digestTimer *time.Timer
	var digestCh <-chan time.Time
	if opts.DigestCron != "" {
		d := nextCronDuration(opts.DigestCron)
		if d <= 0 {
			return fmt.Errorf("sweep: invalid digest cron %q", opts.DigestCron)
		}
		digestTimer = time.NewTimer(d)
		digestCh = digestTimer.C
		defer digestTimer.Stop()
		fmt.Fprintf(out, "Daily digest scheduled (%s, next in %s)\n", opts.DigestCron, d.Round(time.Second))
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	sweepOnce(opts, out)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Sweep daemon stopped.\n")
			return nil
		case <-ticker.C:
			sweepOnce(opts, out)
		case <-digestCh:
			postDigest(ctx, opts, out)
			digestTimer.Reset(nextCronDuration(opts.DigestCron))
		}
	}
}

// sweepOnce runs a single timeout pass and reports what broke.
func sweepOnce(opts Opts, out io.Writer) {
	broken, err := opts.Tracker.EvaluateTimeouts(time.Now())
	if err != nil {
		log.Printf("sweep: evaluate timeouts: %v", err)
		return
	}
	for _, l := range broken {
		fmt.Fprintf(out, "Loop %d broken (%s): %s -> %s\n", l.ID, l.BrokenReason, l.FromAgent, l.ToAgent)
		if l.EscalatedTo != "" {
			fmt.Fprintf(out, "Loop %d escalated to %s\n", l.ID, l.EscalatedTo)
		}
	}
}

// postDigest renders the status report and sends it to every poster.
// Poster failures are logged and do not stop the daemon.
func postDigest(ctx context.Context, opts Opts, out io.Writer) {
	body, err := report.FormatStatus(opts.DB, time.Now(), opts.Loc)
	if err != nil {
		log.Printf("sweep: build digest: %v", err)
		return
	}
	title := "Daily loop digest " + time.Now().In(opts.Loc).Format("2006-01-02")
	for _, p := range opts.Posters {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := p.Post(pctx, title, body); err != nil {
			log.Printf("sweep: post digest: %v", err)
		}
		cancel()
	}
	fmt.Fprintf(out, "Digest posted to %d channel(s)\n", len(opts.Posters))
}
