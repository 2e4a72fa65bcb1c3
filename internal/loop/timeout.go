package loop

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/missionctl/internal/models"
)

// breakReasonFor maps an awaiting stage to the reason a timeout in that
// stage records.
func breakReasonFor(stage models.LoopStage) models.BreakReason {
	switch stage {
	case models.StageAwaitingReply:
		return models.BreakReplyOverdue
	case models.StageAwaitingAction:
		return models.BreakActionOverdue
	case models.StageAwaitingReport:
		return models.BreakReportOverdue
	}
	return models.BreakManual
}

// EvaluateTimeouts breaks every non-terminal loop whose current stage budget
// expired before now. It is idempotent: already-broken loops are excluded by
// the stage filter, and the compare-and-set guard means a loop racing with a
// live event is broken at most once. A loop is never broken before its
// budget expires, however unlikely it is to close.
func (t *Tracker) EvaluateTimeouts(now time.Time) ([]models.Loop, error) {
	var open []models.Loop
	if err := t.db.Where("current_stage IN ?", []models.LoopStage{
		models.StageAwaitingReply,
		models.StageAwaitingAction,
		models.StageAwaitingReport,
	}).Order("started_at ASC, id ASC").Find(&open).Error; err != nil {
		return nil, fmt.Errorf("loop: evaluate timeouts: %w", err)
	}

	var broken []models.Loop
	for i := range open {
		l := open[i]
		budget := t.policy.StageBudget(l.Priority, l.CurrentStage)
		if budget <= 0 {
			continue
		}
		if !now.After(l.StageEnteredAt().Add(budget)) {
			continue
		}
		if t.breakLoop(&l, breakReasonFor(l.CurrentStage), now) {
			cur, err := t.Get(l.ID)
			if err != nil {
				return broken, err
			}
			broken = append(broken, *cur)
		}
	}
	return broken, nil
}

// MarkBroken breaks a loop by operator override, regardless of budgets.
// Terminal loops are rejected with ErrInvalidTransition.
func (t *Tracker) MarkBroken(loopID uint, at time.Time) (*models.Loop, error) {
	l, err := t.Get(loopID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("loop: break %d: %w", loopID, ErrNotFound)
	}
	if l.CurrentStage.Terminal() {
		return l, fmt.Errorf("loop: break %d: loop is %s: %w", loopID, l.CurrentStage, ErrInvalidTransition)
	}
	if at.IsZero() {
		at = time.Now()
	}
	t.breakLoop(l, models.BreakManual, at)
	return t.Get(loopID)
}

// breakLoop commits the terminal broken transition with a compare-and-set on
// the observed stage. Returns true when this call won the transition. The
// breach hook fires only for the winner, so alerts are raised exactly once.
func (t *Tracker) breakLoop(l *models.Loop, reason models.BreakReason, at time.Time) bool {
	escalatedTo := ""
	severity := t.policy.SeverityFor(l.Priority)
	if threshold := t.policy.EscalationThreshold(severity); threshold > 0 {
		if at.Sub(l.StageEnteredAt()) > threshold {
			escalatedTo = t.policy.EscalationTarget(l.ToAgent)
		}
	}

	result := t.db.Model(&models.Loop{}).
		Where("id = ? AND current_stage = ?", l.ID, l.CurrentStage).
		Updates(map[string]interface{}{
			"current_stage": models.StageBroken,
			"broken_at":     at,
			"broken_reason": reason,
			"escalated_to":  escalatedTo,
		})
	if result.Error != nil {
		log.Printf("loop: break %d: %v", l.ID, result.Error)
		return false
	}
	if result.RowsAffected == 0 {
		return false
	}

	if t.hooks.OnBreach != nil {
		broken := *l
		broken.CurrentStage = models.StageBroken
		broken.BrokenAt = &at
		broken.BrokenReason = reason
		broken.EscalatedTo = escalatedTo
		t.hooks.OnBreach(broken, reason)
	}
	return true
}
