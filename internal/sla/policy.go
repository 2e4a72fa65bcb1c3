// Package sla defines the time budgets a loop must meet at each stage.
package sla

import (
	"time"

	"github.com/zulandar/missionctl/internal/config"
	"github.com/zulandar/missionctl/internal/models"
)

// Budgets holds the maximum allowed elapsed time for each loop stage.
type Budgets struct {
	Reply  time.Duration
	Action time.Duration
	Report time.Duration
}

// Policy maps priorities to stage budgets and severities to escalation
// thresholds. A Policy is immutable once built; evaluation is a pure
// function of loop age and this configuration.
type Policy struct {
	byPriority    map[models.Priority]Budgets
	escalation    time.Duration
	targets       map[string]string
	defaultTarget string
}

// FromConfig builds a Policy from validated configuration. Priorities
// without explicit budgets inherit the normal budgets.
func FromConfig(cfg config.SLAConfig) Policy {
	normal := budgetsFrom(cfg.Budgets["normal"])
	by := map[models.Priority]Budgets{
		models.PriorityNormal: normal,
		models.PriorityHigh:   normal,
		models.PriorityUrgent: normal,
	}
	if b, ok := cfg.Budgets["high"]; ok {
		by[models.PriorityHigh] = budgetsFrom(b)
	}
	if b, ok := cfg.Budgets["urgent"]; ok {
		by[models.PriorityUrgent] = budgetsFrom(b)
	}
	return Policy{
		byPriority:    by,
		escalation:    cfg.EscalationThreshold.Std(),
		targets:       cfg.EscalationTargets,
		defaultTarget: cfg.DefaultEscalationTarget,
	}
}

func budgetsFrom(b config.BudgetConfig) Budgets {
	return Budgets{
		Reply:  b.Reply.Std(),
		Action: b.Action.Std(),
		Report: b.Report.Std(),
	}
}

// BudgetsFor returns the stage budgets for a priority. Unknown priorities
// fall back to normal.
func (p Policy) BudgetsFor(priority models.Priority) Budgets {
	if b, ok := p.byPriority[priority]; ok {
		return b
	}
	return p.byPriority[models.PriorityNormal]
}

// StageBudget returns the budget for one awaiting stage.
func (p Policy) StageBudget(priority models.Priority, stage models.LoopStage) time.Duration {
	b := p.BudgetsFor(priority)
	switch stage {
	case models.StageAwaitingReply:
		return b.Reply
	case models.StageAwaitingAction:
		return b.Action
	case models.StageAwaitingReport:
		return b.Report
	}
	return 0
}

// SeverityFor grades a breach by the priority of the loop it breaks.
func (p Policy) SeverityFor(priority models.Priority) models.Severity {
	if priority == models.PriorityUrgent {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

// EscalationThreshold returns how long past a stage's entry a breach must
// be before the alert is escalated. Zero disables escalation.
func (p Policy) EscalationThreshold(severity models.Severity) time.Duration {
	if severity == models.SeverityCritical && p.escalation > 0 {
		// Critical breaches escalate at half the configured threshold.
		return p.escalation / 2
	}
	return p.escalation
}

// EscalationTarget resolves who an unresolved breach on the accountable
// agent is forwarded to.
func (p Policy) EscalationTarget(accountableAgent string) string {
	if t, ok := p.targets[accountableAgent]; ok {
		return t
	}
	return p.defaultTarget
}
