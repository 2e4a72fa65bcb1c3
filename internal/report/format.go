package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/missionctl/internal/alert"
	"gorm.io/gorm"
)

// FormatDuration formats a duration as a human-readable string like "2h 15m".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatStatus renders the status view shown by `mctl status` and posted as
// the daily digest body.
func FormatStatus(db *gorm.DB, now time.Time, loc *time.Location) (string, error) {
	summary, err := BuildDailySummary(db, now, loc)
	if err != nil {
		return "", err
	}
	agents, err := BuildAgentBreakdown(db, 7, now)
	if err != nil {
		return "", err
	}
	unresolved, err := alert.Unresolved(db, 10)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Loop health for %s\n\n", summary.Day)
	fmt.Fprintf(&b, "  Active:    %d\n", summary.TotalActive)
	fmt.Fprintf(&b, "  Completed: %d\n", summary.CompletedToday)
	fmt.Fprintf(&b, "  Broken:    %d\n", summary.BrokenToday)
	if summary.AvgCompletionMs != nil {
		fmt.Fprintf(&b, "  Avg completion: %s\n", FormatDuration(time.Duration(*summary.AvgCompletionMs)*time.Millisecond))
	} else {
		fmt.Fprintf(&b, "  Avg completion: n/a\n")
	}

	if len(agents) > 0 {
		fmt.Fprintf(&b, "\nAccountability (last 7 days)\n")
		fmt.Fprintf(&b, "  %-16s %5s %6s %6s %8s %5s\n", "AGENT", "TOTAL", "CLOSED", "BROKEN", "BREACHES", "RATE")
		for _, a := range agents {
			fmt.Fprintf(&b, "  %-16s %5d %6d %6d %8d %4d%%\n",
				a.Agent, a.Total, a.Closed, a.Broken, a.SLABreaches, a.CompletionRate)
		}
	}

	if len(unresolved) > 0 {
		fmt.Fprintf(&b, "\nUnresolved alerts\n")
		for _, a := range unresolved {
			esc := ""
			if a.EscalatedTo != "" {
				esc = " -> " + a.EscalatedTo
			}
			fmt.Fprintf(&b, "  [%s] loop %d %s (%s -> %s)%s\n",
				a.Severity, a.LoopID, a.Type, a.FromAgent, a.ToAgent, esc)
		}
	}

	return b.String(), nil
}
