// Package alert converts loop breaches into durable alert records and hands
// them to notifiers.
package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/missionctl/internal/messaging"
	"github.com/zulandar/missionctl/internal/models"
	"github.com/zulandar/missionctl/internal/sla"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notifier delivers an alert to an external channel (Slack, Discord, ...).
// Implementations live in internal/notify; the dispatcher itself never
// talks to third-party services.
type Notifier interface {
	Notify(ctx context.Context, a models.Alert) error
}

// Dispatcher records breaches as alerts and fans them out to notifiers.
// Alert creation is idempotent per (loop, type); notification is
// best-effort and never blocks or fails loop processing.
type Dispatcher struct {
	db        *gorm.DB
	policy    sla.Policy
	notifiers []Notifier
}

// NewDispatcher creates a Dispatcher. Notifiers are optional.
func NewDispatcher(db *gorm.DB, policy sla.Policy, notifiers ...Notifier) (*Dispatcher, error) {
	if db == nil {
		return nil, fmt.Errorf("alert: db is required")
	}
	return &Dispatcher{db: db, policy: policy, notifiers: notifiers}, nil
}

// OnBreach records an alert for a broken loop. A second breach of the same
// type on the same loop is a no-op: the already-open alert persists and no
// duplicate notification is sent.
func (d *Dispatcher) OnBreach(l models.Loop, reason models.BreakReason) (*models.Alert, error) {
	a := models.Alert{
		LoopID:      l.ID,
		Type:        models.AlertTypeFor(reason),
		Severity:    d.policy.SeverityFor(l.Priority),
		SentAt:      l.StartedAt,
		FromAgent:   l.FromAgent,
		ToAgent:     l.ToAgent,
		EscalatedTo: l.EscalatedTo,
		StatusLabel: d.originStatusLabel(l),
		CreatedAt:   time.Now(),
	}

	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "loop_id"}, {Name: "type"}},
		DoNothing: true,
	}).Create(&a)
	if result.Error != nil {
		return nil, fmt.Errorf("alert: record breach for loop %d: %w", l.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		var existing models.Alert
		if err := d.db.Where("loop_id = ? AND type = ?", l.ID, a.Type).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("alert: load existing for loop %d: %w", l.ID, err)
		}
		return &existing, nil
	}

	d.notify(a)
	return &a, nil
}

// OnResolve marks all open alerts for a loop resolved, called when the loop
// advances out of a breached stage or terminates.
func (d *Dispatcher) OnResolve(loopID uint) error {
	result := d.db.Model(&models.Alert{}).
		Where("loop_id = ? AND resolved = ?", loopID, false).
		Update("resolved", true)
	if result.Error != nil {
		return fmt.Errorf("alert: resolve loop %d: %w", loopID, result.Error)
	}
	return nil
}

// Unresolved returns open alerts, newest sentAt first, up to limit.
func Unresolved(db *gorm.DB, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []models.Alert
	if err := db.Where("resolved = ?", false).
		Order("sent_at DESC, id DESC").
		Limit(limit).
		Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("alert: list unresolved: %w", err)
	}
	return alerts, nil
}

// notify hands the alert to every notifier. Best-effort: failures are
// logged and never propagate into loop processing.
func (d *Dispatcher) notify(a models.Alert) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.Notify(ctx, a); err != nil {
			log.Printf("alert: notify loop %d (%s): %v", a.LoopID, a.Type, err)
		}
		cancel()
	}
}

// originStatusLabel reads the delivery status of the loop's origin message
// for display on the alert. Missing messages degrade to "unknown".
func (d *Dispatcher) originStatusLabel(l models.Loop) string {
	if l.OriginMessageID == 0 {
		return "unknown"
	}
	msg, err := messaging.Get(d.db, l.OriginMessageID)
	if err != nil || msg == nil {
		return "unknown"
	}
	return string(msg.Status)
}
