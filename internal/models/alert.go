package models

import "time"

// AlertType classifies what kind of SLA breach an alert records.
type AlertType string

const (
	AlertReplyOverdue  AlertType = "reply_overdue"
	AlertActionOverdue AlertType = "action_overdue"
	AlertReportOverdue AlertType = "report_overdue"
	AlertLoopBroken    AlertType = "loop_broken"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertReplyOverdue, AlertActionOverdue, AlertReportOverdue, AlertLoopBroken:
		return true
	}
	return false
}

// AlertTypeFor maps a loop break reason to the alert type raised for it.
func AlertTypeFor(r BreakReason) AlertType {
	switch r {
	case BreakReplyOverdue:
		return AlertReplyOverdue
	case BreakActionOverdue:
		return AlertActionOverdue
	case BreakReportOverdue:
		return AlertReportOverdue
	case BreakManual:
		return AlertLoopBroken
	}
	return AlertLoopBroken
}

// Severity grades an alert for display and escalation routing.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Alert is an audit-trail record of one SLA breach on one loop. At most one
// alert exists per (loop, type); re-detecting the same breach is a no-op.
// Alerts are never deleted, only marked resolved.
type Alert struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	LoopID      uint      `gorm:"not null;uniqueIndex:idx_alert_loop_type"`
	Type        AlertType `gorm:"size:16;not null;uniqueIndex:idx_alert_loop_type"`
	Severity    Severity  `gorm:"size:8;not null"`
	SentAt      time.Time `gorm:"index"` // sentAt of the loop's origin message
	FromAgent   string    `gorm:"size:64"`
	ToAgent     string    `gorm:"size:64;index"`
	EscalatedTo string    `gorm:"size:64"`
	Resolved    bool      `gorm:"default:false;index"`
	StatusLabel string    `gorm:"size:16"` // origin message status at breach time
	CreatedAt   time.Time
}
