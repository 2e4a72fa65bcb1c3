// Package report computes rollups over loop and alert state for dashboards.
// All queries are read-only snapshots; they tolerate data changing
// underneath and never fail on missing data.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/missionctl/internal/models"
	"gorm.io/gorm"
)

// DailySummary holds one day's loop health rollup. AvgCompletionMs is nil
// when no loop completed in the window: a zero would read as instant
// completion.
type DailySummary struct {
	Day             string `json:"day"`
	TotalActive     int64  `json:"totalActive"`
	CompletedToday  int64  `json:"completedToday"`
	BrokenToday     int64  `json:"brokenToday"`
	AvgCompletionMs *int64 `json:"avgCompletionTimeMs"`
}

// BuildDailySummary computes the rollup for the calendar day containing day,
// in the reference timezone loc. Active counts are as of query time, not of
// the requested day.
func BuildDailySummary(db *gorm.DB, day time.Time, loc *time.Location) (*DailySummary, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	s := &DailySummary{Day: start.Format("2006-01-02")}

	if err := db.Model(&models.Loop{}).
		Where("current_stage NOT IN ?", []models.LoopStage{models.StageCompleted, models.StageBroken}).
		Count(&s.TotalActive).Error; err != nil {
		return nil, fmt.Errorf("report: count active: %w", err)
	}

	var completed []models.Loop
	if err := db.Where("current_stage = ? AND reported_at >= ? AND reported_at < ?",
		models.StageCompleted, start, end).
		Find(&completed).Error; err != nil {
		return nil, fmt.Errorf("report: completed in range: %w", err)
	}
	s.CompletedToday = int64(len(completed))

	if err := db.Model(&models.Loop{}).
		Where("current_stage = ? AND broken_at >= ? AND broken_at < ?",
			models.StageBroken, start, end).
		Count(&s.BrokenToday).Error; err != nil {
		return nil, fmt.Errorf("report: count broken: %w", err)
	}

	if len(completed) > 0 {
		var total time.Duration
		for _, l := range completed {
			total += l.ReportedAt.Sub(l.StartedAt)
		}
		avg := (total / time.Duration(len(completed))).Milliseconds()
		s.AvgCompletionMs = &avg
	}

	return s, nil
}

// AgentRow holds one agent's accountability breakdown. The agent is the
// loop's toAgent: the party expected to reply, act, and report.
type AgentRow struct {
	Agent          string `json:"agentName"`
	Total          int    `json:"total"`
	Closed         int    `json:"closed"`
	Broken         int    `json:"broken"`
	SLABreaches    int    `json:"slaBreaches"`
	CompletionRate int    `json:"completionRate"`
	AvgReplyMs     *int64 `json:"avgReplyTimeMs"`
	AvgActionMs    *int64 `json:"avgActionTimeMs"`
}

// BuildAgentBreakdown aggregates loops started within the last sinceDays
// days (as of now), grouped by accountable agent. Sorted by total
// descending so the most-loaded agents come first, then agent name
// ascending for a stable order.
func BuildAgentBreakdown(db *gorm.DB, sinceDays int, now time.Time) ([]AgentRow, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	since := now.AddDate(0, 0, -sinceDays)

	var loops []models.Loop
	if err := db.Where("started_at >= ?", since).Find(&loops).Error; err != nil {
		return nil, fmt.Errorf("report: loops since %s: %w", since.Format("2006-01-02"), err)
	}

	type acc struct {
		row         AgentRow
		replyTotal  time.Duration
		replyCount  int
		actionTotal time.Duration
		actionCount int
	}
	byAgent := make(map[string]*acc)
	loopIDs := make([]uint, 0, len(loops))
	agentOf := make(map[uint]string, len(loops))

	for _, l := range loops {
		a, ok := byAgent[l.ToAgent]
		if !ok {
			a = &acc{row: AgentRow{Agent: l.ToAgent}}
			byAgent[l.ToAgent] = a
		}
		a.row.Total++
		switch l.CurrentStage {
		case models.StageCompleted:
			a.row.Closed++
		case models.StageBroken:
			a.row.Broken++
		}
		if l.RepliedAt != nil {
			a.replyTotal += l.RepliedAt.Sub(l.StartedAt)
			a.replyCount++
		}
		if l.ActedAt != nil && l.RepliedAt != nil {
			a.actionTotal += l.ActedAt.Sub(*l.RepliedAt)
			a.actionCount++
		}
		loopIDs = append(loopIDs, l.ID)
		agentOf[l.ID] = l.ToAgent
	}

	// SLA breaches: alerts raised against this window's loops.
	if len(loopIDs) > 0 {
		var alerts []models.Alert
		if err := db.Where("loop_id IN ?", loopIDs).Find(&alerts).Error; err != nil {
			return nil, fmt.Errorf("report: alerts for window: %w", err)
		}
		for _, al := range alerts {
			if agent, ok := agentOf[al.LoopID]; ok {
				byAgent[agent].row.SLABreaches++
			}
		}
	}

	rows := make([]AgentRow, 0, len(byAgent))
	for _, a := range byAgent {
		if a.row.Total > 0 {
			a.row.CompletionRate = int(float64(100*a.row.Closed)/float64(a.row.Total) + 0.5)
		}
		if a.replyCount > 0 {
			avg := (a.replyTotal / time.Duration(a.replyCount)).Milliseconds()
			a.row.AvgReplyMs = &avg
		}
		if a.actionCount > 0 {
			avg := (a.actionTotal / time.Duration(a.actionCount)).Milliseconds()
			a.row.AvgActionMs = &avg
		}
		rows = append(rows, a.row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Agent < rows[j].Agent
	})
	return rows, nil
}
