// Package loop tracks send -> reply -> action -> report accountability
// cycles between agents and breaks them when SLA budgets are exceeded.
package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/sla"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when an event does not match the loop's
// current stage, or the loop is already terminal. The event is dropped and
// the loop is unchanged (or broken, if the event revealed an expired budget).
var ErrInvalidTransition = errors.New("invalid transition")

// ErrNotFound is returned when a loop id does not exist.
var ErrNotFound = errors.New("loop not found")

// EventKind classifies follow-up events that advance a loop.
type EventKind string

const (
	EventReply  EventKind = "reply"
	EventAction EventKind = "action"
	EventReport EventKind = "report"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	return k == EventReply || k == EventAction || k == EventReport
}

// expectedStage returns the stage a loop must be in for this event to apply.
func (k EventKind) expectedStage() models.LoopStage {
	switch k {
	case EventReply:
		return models.StageAwaitingReply
	case EventAction:
		return models.StageAwaitingAction
	case EventReport:
		return models.StageAwaitingReport
	}
	return ""
}

// Event is one follow-up signal: a reply message, a tracked action (commit,
// task update), or a closing report. LoopID is optional; when zero the event
// is correlated to the oldest open loop the agent is accountable for.
type Event struct {
	Kind   EventKind
	Agent  string
	LoopID uint
	At     time.Time
}

// Hooks are callbacks invoked after committed state transitions. Both are
// optional and must not block; the alert dispatcher hangs off these.
type Hooks struct {
	// OnBreach fires once per committed break, with the broken loop.
	OnBreach func(l models.Loop, reason models.BreakReason)
	// OnResolve fires when a loop advances a stage or completes.
	OnResolve func(loopID uint)
}

// Tracker owns the authoritative loop state machine. All stage transitions
// go through a compare-and-set on the loop's current stage, so at most one
// transition commits per (loop, event) even under concurrent arrivals.
type Tracker struct {
	db     *gorm.DB
	policy sla.Policy
	hooks  Hooks
}

// NewTracker creates a Tracker backed by db and governed by policy.
func NewTracker(db *gorm.DB, policy sla.Policy, hooks Hooks) (*Tracker, error) {
	if db == nil {
		return nil, fmt.Errorf("loop: db is required")
	}
	return &Tracker{db: db, policy: policy, hooks: hooks}, nil
}

// Get looks up a loop by id. Returns (nil, nil) when no such loop exists.
func (t *Tracker) Get(id uint) (*models.Loop, error) {
	var l models.Loop
	if err := t.db.First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loop: get %d: %w", id, err)
	}
	return &l, nil
}

// Qualifies reports whether a message opens a new loop: it must be directed
// at a specific agent and not originate from the system itself.
func Qualifies(msg *models.Message) bool {
	if msg.FromAgent == "system" {
		return false
	}
	return msg.ToAgent != "" && msg.ToAgent != "broadcast"
}

// Open creates a loop in awaiting_reply for a qualifying message.
func (t *Tracker) Open(msg *models.Message) (*models.Loop, error) {
	if msg == nil {
		return nil, fmt.Errorf("loop: message is required")
	}
	if !Qualifies(msg) {
		return nil, fmt.Errorf("loop: message %d does not qualify as a loop opener", msg.ID)
	}

	priority := msg.Priority
	if !priority.Valid() {
		priority = models.PriorityNormal
	}

	l := models.Loop{
		FromAgent:       msg.FromAgent,
		ToAgent:         msg.ToAgent,
		OriginMessageID: msg.ID,
		Priority:        priority,
		CurrentStage:    models.StageAwaitingReply,
		StartedAt:       msg.SentAt,
	}
	if err := t.db.Create(&l).Error; err != nil {
		return nil, fmt.Errorf("loop: open: %w", err)
	}
	return &l, nil
}
