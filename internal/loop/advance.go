package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/missionctl/internal/messaging"
	"github.com/zulandar/missionctl/internal/models"
)

// Advance applies one event to one loop. It fails with ErrInvalidTransition
// when the loop is terminal or the event does not match the expected next
// stage. When the event arrives after the stage budget has already expired,
// the loop is broken instead and the late event is rejected.
//
// A compare-and-set miss after a valid read (a concurrent writer committed
// first) is not an error: the stale event is dropped and the current loop
// state returned.
func (t *Tracker) Advance(loopID uint, ev Event) (*models.Loop, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("loop: unknown event kind %q", ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	l, err := t.Get(loopID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("loop: advance %d: %w", loopID, ErrNotFound)
	}

	if l.CurrentStage.Terminal() {
		return l, fmt.Errorf("loop: advance %d: loop is %s: %w", loopID, l.CurrentStage, ErrInvalidTransition)
	}
	if l.CurrentStage != ev.Kind.expectedStage() {
		return l, fmt.Errorf("loop: advance %d: %s event in stage %s: %w", loopID, ev.Kind, l.CurrentStage, ErrInvalidTransition)
	}

	// Lazy timeout evaluation: an event past the stage deadline breaks the
	// loop rather than advancing it. The sweep would have broken it anyway.
	budget := t.policy.StageBudget(l.Priority, l.CurrentStage)
	if deadline := l.StageEnteredAt().Add(budget); budget > 0 && ev.At.After(deadline) {
		t.breakLoop(l, breakReasonFor(l.CurrentStage), ev.At)
		cur, getErr := t.Get(loopID)
		if getErr != nil {
			return nil, getErr
		}
		return cur, fmt.Errorf("loop: advance %d: %s budget expired at %s: %w",
			loopID, l.CurrentStage, deadline.Format(time.RFC3339), ErrInvalidTransition)
	}

	updates := transitionFor(l.CurrentStage, ev.At)
	result := t.db.Model(&models.Loop{}).
		Where("id = ? AND current_stage = ?", l.ID, l.CurrentStage).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("loop: advance %d: %w", loopID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the CAS race: another writer transitioned this loop first.
		return t.Get(loopID)
	}

	if ev.Kind == EventReply && l.OriginMessageID != 0 {
		if err := messaging.MarkReplied(t.db, l.OriginMessageID, ev.At); err != nil {
			return nil, fmt.Errorf("loop: advance %d: %w", loopID, err)
		}
	}
	if t.hooks.OnResolve != nil {
		t.hooks.OnResolve(l.ID)
	}

	return t.Get(loopID)
}

// transitionFor maps a pre-state to the column updates that commit its
// successor transition.
func transitionFor(stage models.LoopStage, at time.Time) map[string]interface{} {
	switch stage {
	case models.StageAwaitingReply:
		return map[string]interface{}{
			"current_stage": models.StageAwaitingAction,
			"replied_at":    at,
		}
	case models.StageAwaitingAction:
		return map[string]interface{}{
			"current_stage": models.StageAwaitingReport,
			"acted_at":      at,
		}
	case models.StageAwaitingReport:
		return map[string]interface{}{
			"current_stage": models.StageCompleted,
			"reported_at":   at,
		}
	}
	return nil
}

// HandleMessage records the loop consequences of a new message: if it reads
// as a reply to an open loop between the same agent pair, the oldest such
// loop advances (first-opened-first-closed, so long-waiting loops are never
// starved); otherwise a qualifying message opens a new loop.
func (t *Tracker) HandleMessage(msg *models.Message) (*models.Loop, error) {
	if msg == nil {
		return nil, fmt.Errorf("loop: message is required")
	}

	// Reply direction: open loops from msg.ToAgent to msg.FromAgent.
	candidates, err := t.openLoops(msg.ToAgent, msg.FromAgent, models.StageAwaitingReply)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		l, err := t.Advance(candidates[i].ID, Event{Kind: EventReply, Agent: msg.FromAgent, At: msg.SentAt})
		if err == nil {
			return l, nil
		}
		if errors.Is(err, ErrInvalidTransition) {
			// Candidate broke or closed underneath us; try the next oldest.
			continue
		}
		return nil, err
	}

	if !Qualifies(msg) {
		return nil, nil
	}
	return t.Open(msg)
}

// HandleEvent applies an action or report event. Events carrying an explicit
// loop id advance that loop; otherwise the event is correlated FIFO to the
// oldest open loop the agent is accountable for in the matching stage.
// Returns (nil, nil) when nothing correlates: the event is dropped.
func (t *Tracker) HandleEvent(ev Event) (*models.Loop, error) {
	if ev.Kind != EventAction && ev.Kind != EventReport {
		return nil, fmt.Errorf("loop: unsupported event kind %q", ev.Kind)
	}
	if ev.LoopID != 0 {
		return t.Advance(ev.LoopID, ev)
	}
	if ev.Agent == "" {
		return nil, fmt.Errorf("loop: event needs a loop id or an agent")
	}

	var candidates []models.Loop
	if err := t.db.Where("to_agent = ? AND current_stage = ?", ev.Agent, ev.Kind.expectedStage()).
		Order("started_at ASC, id ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("loop: correlate %s for %s: %w", ev.Kind, ev.Agent, err)
	}
	for i := range candidates {
		l, err := t.Advance(candidates[i].ID, ev)
		if err == nil {
			return l, nil
		}
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		return nil, err
	}
	return nil, nil
}

// openLoops lists non-terminal loops from one agent to another in the given
// stage, oldest first.
func (t *Tracker) openLoops(fromAgent, toAgent string, stage models.LoopStage) ([]models.Loop, error) {
	var loops []models.Loop
	if err := t.db.Where("from_agent = ? AND to_agent = ? AND current_stage = ?", fromAgent, toAgent, stage).
		Order("started_at ASC, id ASC").
		Find(&loops).Error; err != nil {
		return nil, fmt.Errorf("loop: list open %s->%s: %w", fromAgent, toAgent, err)
	}
	return loops, nil
}
