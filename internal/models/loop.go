package models

import "time"

// LoopStage is the current position of a loop in its
// send -> reply -> action -> report cycle.
type LoopStage string

const (
	StageAwaitingReply  LoopStage = "awaiting_reply"
	StageAwaitingAction LoopStage = "awaiting_action"
	StageAwaitingReport LoopStage = "awaiting_report"
	StageCompleted      LoopStage = "completed"
	StageBroken         LoopStage = "broken"
)

// Valid reports whether s is a known stage.
func (s LoopStage) Valid() bool {
	switch s {
	case StageAwaitingReply, StageAwaitingAction, StageAwaitingReport,
		StageCompleted, StageBroken:
		return true
	}
	return false
}

// Terminal reports whether a loop in this stage accepts further transitions.
func (s LoopStage) Terminal() bool {
	return s == StageCompleted || s == StageBroken
}

// BreakReason records why a loop was marked broken.
type BreakReason string

const (
	BreakReplyOverdue  BreakReason = "reply_overdue"
	BreakActionOverdue BreakReason = "action_overdue"
	BreakReportOverdue BreakReason = "report_overdue"
	BreakManual        BreakReason = "manual_override"
)

// Valid reports whether r is a known break reason.
func (r BreakReason) Valid() bool {
	switch r {
	case BreakReplyOverdue, BreakActionOverdue, BreakReportOverdue, BreakManual:
		return true
	}
	return false
}

// Loop tracks one send -> reply -> action -> report accountability cycle
// between two agents. Stage transitions are monotonic; completed and
// broken are terminal. Rows are retained indefinitely for reporting.
type Loop struct {
	ID              uint        `gorm:"primaryKey;autoIncrement"`
	FromAgent       string      `gorm:"size:64;not null;index:idx_loop_pair"`
	ToAgent         string      `gorm:"size:64;not null;index:idx_loop_pair"`
	OriginMessageID uint        `gorm:"index"`
	Priority        Priority    `gorm:"size:8;default:normal"`
	CurrentStage    LoopStage   `gorm:"size:16;not null;index"`
	StartedAt       time.Time   `gorm:"index"`
	RepliedAt       *time.Time
	ActedAt         *time.Time
	ReportedAt      *time.Time
	BrokenAt        *time.Time
	BrokenReason    BreakReason `gorm:"size:16"`
	EscalatedTo     string      `gorm:"size:64"`
}

// StageEnteredAt returns when the loop entered its current stage. Deadlines
// for each stage are measured from this instant.
func (l *Loop) StageEnteredAt() time.Time {
	switch l.CurrentStage {
	case StageAwaitingReply:
		return l.StartedAt
	case StageAwaitingAction:
		if l.RepliedAt != nil {
			return *l.RepliedAt
		}
	case StageAwaitingReport:
		if l.ActedAt != nil {
			return *l.ActedAt
		}
	case StageCompleted:
		if l.ReportedAt != nil {
			return *l.ReportedAt
		}
	case StageBroken:
		if l.BrokenAt != nil {
			return *l.BrokenAt
		}
	}
	return l.StartedAt
}
