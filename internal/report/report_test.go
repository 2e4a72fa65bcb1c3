package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/missionctl/internal/db"
	"github.com/zulandar/missionctl/internal/models"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func mkLoop(t *testing.T, gdb *gorm.DB, toAgent string, stage models.LoopStage, startedAt time.Time, reportedAfter, brokenAfter time.Duration) models.Loop {
	t.Helper()
	l := models.Loop{
		FromAgent:    "sam",
		ToAgent:      toAgent,
		Priority:     models.PriorityNormal,
		CurrentStage: stage,
		StartedAt:    startedAt,
	}
	if stage == models.StageCompleted {
		replied := startedAt.Add(reportedAfter / 3)
		acted := startedAt.Add(2 * reportedAfter / 3)
		reported := startedAt.Add(reportedAfter)
		l.RepliedAt = &replied
		l.ActedAt = &acted
		l.ReportedAt = &reported
	}
	if stage == models.StageBroken {
		broken := startedAt.Add(brokenAfter)
		l.BrokenAt = &broken
		l.BrokenReason = models.BreakReplyOverdue
	}
	if err := gdb.Create(&l).Error; err != nil {
		t.Fatalf("create loop: %v", err)
	}
	return l
}

func TestDailySummary_CountsAndAverage(t *testing.T) {
	gdb := testDB(t)

	mkLoop(t, gdb, "leo", models.StageAwaitingReply, t0, 0, 0)
	mkLoop(t, gdb, "leo", models.StageAwaitingAction, t0, 0, 0)
	mkLoop(t, gdb, "leo", models.StageCompleted, t0, 25*time.Minute, 0)
	mkLoop(t, gdb, "ada", models.StageCompleted, t0, 35*time.Minute, 0)
	mkLoop(t, gdb, "leo", models.StageBroken, t0, 0, 31*time.Minute)
	// Completed on a different day: outside the window.
	mkLoop(t, gdb, "leo", models.StageCompleted, t0.AddDate(0, 0, -2), 10*time.Minute, 0)

	s, err := BuildDailySummary(gdb, t0, time.UTC)
	if err != nil {
		t.Fatalf("BuildDailySummary: %v", err)
	}
	if s.Day != "2026-08-01" {
		t.Errorf("Day = %q", s.Day)
	}
	if s.TotalActive != 2 {
		t.Errorf("TotalActive = %d, want 2", s.TotalActive)
	}
	if s.CompletedToday != 2 {
		t.Errorf("CompletedToday = %d, want 2", s.CompletedToday)
	}
	if s.BrokenToday != 1 {
		t.Errorf("BrokenToday = %d, want 1", s.BrokenToday)
	}
	wantAvg := (30 * time.Minute).Milliseconds()
	if s.AvgCompletionMs == nil || *s.AvgCompletionMs != wantAvg {
		t.Errorf("AvgCompletionMs = %v, want %d", s.AvgCompletionMs, wantAvg)
	}
}

func TestDailySummary_NoCompletionsNilAverage(t *testing.T) {
	gdb := testDB(t)
	mkLoop(t, gdb, "leo", models.StageAwaitingReply, t0, 0, 0)

	s, err := BuildDailySummary(gdb, t0, time.UTC)
	if err != nil {
		t.Fatalf("BuildDailySummary: %v", err)
	}
	if s.AvgCompletionMs != nil {
		t.Errorf("AvgCompletionMs = %d, want nil (zero would imply instant completion)", *s.AvgCompletionMs)
	}
	if s.CompletedToday != 0 {
		t.Errorf("CompletedToday = %d, want 0", s.CompletedToday)
	}
}

func TestDailySummary_TimezoneWindow(t *testing.T) {
	gdb := testDB(t)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}

	// 01:00 UTC on Aug 2 is still Aug 1 in New York.
	late := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	mkLoop(t, gdb, "leo", models.StageCompleted, late, time.Hour, 0) // reported 01:00 UTC Aug 2

	s, err := BuildDailySummary(gdb, t0, ny)
	if err != nil {
		t.Fatalf("BuildDailySummary: %v", err)
	}
	if s.CompletedToday != 1 {
		t.Errorf("CompletedToday = %d, want 1 (NY window includes 01:00 UTC next day)", s.CompletedToday)
	}

	sUTC, err := BuildDailySummary(gdb, t0, time.UTC)
	if err != nil {
		t.Fatalf("BuildDailySummary UTC: %v", err)
	}
	if sUTC.CompletedToday != 0 {
		t.Errorf("UTC CompletedToday = %d, want 0", sUTC.CompletedToday)
	}
}

func TestAgentBreakdown_RatesAndSort(t *testing.T) {
	gdb := testDB(t)
	now := t0.Add(24 * time.Hour)

	// leo: 3 loops, 2 completed, 1 broken.
	mkLoop(t, gdb, "leo", models.StageCompleted, t0, 30*time.Minute, 0)
	mkLoop(t, gdb, "leo", models.StageCompleted, t0, 60*time.Minute, 0)
	l := mkLoop(t, gdb, "leo", models.StageBroken, t0, 0, 31*time.Minute)
	gdb.Create(&models.Alert{LoopID: l.ID, Type: models.AlertReplyOverdue, Severity: models.SeverityWarning, SentAt: t0, ToAgent: "leo"})

	// ada: 1 loop, completed. Ties with nobody; fewer loops than leo.
	mkLoop(t, gdb, "ada", models.StageCompleted, t0, 20*time.Minute, 0)

	// Old loop outside the window must not count.
	mkLoop(t, gdb, "leo", models.StageBroken, now.AddDate(0, 0, -30), 0, time.Hour)

	rows, err := BuildAgentBreakdown(gdb, 7, now)
	if err != nil {
		t.Fatalf("BuildAgentBreakdown: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Agent != "leo" || rows[1].Agent != "ada" {
		t.Errorf("order = %s, %s; want leo, ada (most loaded first)", rows[0].Agent, rows[1].Agent)
	}

	leo := rows[0]
	if leo.Total != 3 || leo.Closed != 2 || leo.Broken != 1 {
		t.Errorf("leo = total %d closed %d broken %d", leo.Total, leo.Closed, leo.Broken)
	}
	if leo.SLABreaches != 1 {
		t.Errorf("leo breaches = %d, want 1", leo.SLABreaches)
	}
	if leo.CompletionRate != 67 {
		t.Errorf("leo rate = %d, want 67", leo.CompletionRate)
	}

	ada := rows[1]
	if ada.CompletionRate != 100 {
		t.Errorf("ada rate = %d, want 100", ada.CompletionRate)
	}
	if ada.AvgReplyMs == nil {
		t.Error("ada AvgReplyMs = nil, want value")
	}
}

func TestAgentBreakdown_SortTieBreakByName(t *testing.T) {
	gdb := testDB(t)
	now := t0.Add(time.Hour)
	mkLoop(t, gdb, "zoe", models.StageAwaitingReply, t0, 0, 0)
	mkLoop(t, gdb, "ada", models.StageAwaitingReply, t0, 0, 0)

	rows, err := BuildAgentBreakdown(gdb, 7, now)
	if err != nil {
		t.Fatalf("BuildAgentBreakdown: %v", err)
	}
	if len(rows) != 2 || rows[0].Agent != "ada" || rows[1].Agent != "zoe" {
		t.Errorf("tie order = %v, want ada before zoe", rows)
	}
}

func TestAgentBreakdown_Empty(t *testing.T) {
	gdb := testDB(t)
	rows, err := BuildAgentBreakdown(gdb, 7, t0)
	if err != nil {
		t.Fatalf("BuildAgentBreakdown: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestAgentBreakdown_NoRepliesNilAverages(t *testing.T) {
	gdb := testDB(t)
	mkLoop(t, gdb, "leo", models.StageAwaitingReply, t0, 0, 0)

	rows, err := BuildAgentBreakdown(gdb, 7, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildAgentBreakdown: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].AvgReplyMs != nil || rows[0].AvgActionMs != nil {
		t.Errorf("averages = %v/%v, want nil/nil", rows[0].AvgReplyMs, rows[0].AvgActionMs)
	}
	if rows[0].CompletionRate != 0 {
		t.Errorf("rate = %d, want 0", rows[0].CompletionRate)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{26 * time.Hour, "1d 2h"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	gdb := testDB(t)
	mkLoop(t, gdb, "leo", models.StageCompleted, t0, 25*time.Minute, 0)
	l := mkLoop(t, gdb, "leo", models.StageBroken, t0, 0, 31*time.Minute)
	gdb.Create(&models.Alert{LoopID: l.ID, Type: models.AlertReplyOverdue, Severity: models.SeverityWarning, SentAt: t0, FromAgent: "sam", ToAgent: "leo"})

	out, err := FormatStatus(gdb, t0, time.UTC)
	if err != nil {
		t.Fatalf("FormatStatus: %v", err)
	}
	for _, want := range []string{"2026-08-01", "Completed: 1", "Broken:    1", "leo", "reply_overdue"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
