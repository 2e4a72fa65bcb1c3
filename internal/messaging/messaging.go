// Package messaging is the durable store of inter-agent messages.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/missionctl/internal/models"
	"gorm.io/gorm"
)

// SendOpts holds optional parameters for recording a message.
type SendOpts struct {
	Priority models.Priority // defaults to normal
	SentAt   time.Time       // defaults to now
}

// Send records a new message from one agent to another.
func Send(db *gorm.DB, from, to, content string, opts SendOpts) (*models.Message, error) {
	if from == "" {
		return nil, fmt.Errorf("messaging: from is required")
	}
	if to == "" {
		return nil, fmt.Errorf("messaging: to is required")
	}

	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("messaging: unknown priority %q", priority)
	}
	sentAt := opts.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	msg := models.Message{
		FromAgent: from,
		ToAgent:   to,
		Content:   content,
		Priority:  priority,
		Status:    models.MessagePending,
		SentAt:    sentAt,
	}

	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("messaging: send: %w", err)
	}

	return &msg, nil
}

// Get looks up a message by id. Returns (nil, nil) when no such message
// exists; lookups of unknown ids are an absent result, not an error.
func Get(db *gorm.DB, id uint) (*models.Message, error) {
	var msg models.Message
	if err := db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("messaging: get %d: %w", id, err)
	}
	return &msg, nil
}

// ListBetween returns messages exchanged between two agents in either
// direction, newest first, up to limit.
func ListBetween(db *gorm.DB, agentA, agentB string, limit int) ([]models.Message, error) {
	if agentA == "" || agentB == "" {
		return nil, fmt.Errorf("messaging: both agents are required")
	}
	if limit <= 0 {
		limit = 50
	}

	var msgs []models.Message
	if err := db.Where("(from_agent = ? AND to_agent = ?) OR (from_agent = ? AND to_agent = ?)",
		agentA, agentB, agentB, agentA).
		Order("sent_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: list %s<->%s: %w", agentA, agentB, err)
	}
	return msgs, nil
}

// AdvanceStatus moves a message forward along its delivery lifecycle.
// Transitions are monotonic and idempotent: re-applying the current or an
// earlier status is a no-op, and a lost compare-and-set race (another
// writer advanced first) is also a no-op.
func AdvanceStatus(db *gorm.DB, id uint, status models.MessageStatus, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("messaging: unknown status %q", status)
	}

	msg, err := Get(db, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("messaging: message not found: %d", id)
	}
	if status.Rank() <= msg.Status.Rank() {
		return nil
	}

	updates := map[string]interface{}{"status": status}
	switch status {
	case models.MessageSeen:
		updates["seen_at"] = at
	case models.MessageReplied:
		updates["replied_at"] = at
	}

	// Guard on the observed status so concurrent advances can't regress.
	result := db.Model(&models.Message{}).
		Where("id = ? AND status = ?", id, msg.Status).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("messaging: advance %d to %s: %w", id, status, result.Error)
	}
	// RowsAffected == 0 means another writer moved the message first;
	// monotonicity makes dropping this advance safe.
	return nil
}

// MarkDelivered records that a message reached its recipient.
func MarkDelivered(db *gorm.DB, id uint) error {
	return AdvanceStatus(db, id, models.MessageDelivered, time.Now())
}

// MarkSeen records that the recipient viewed the message.
func MarkSeen(db *gorm.DB, id uint, at time.Time) error {
	return AdvanceStatus(db, id, models.MessageSeen, at)
}

// MarkReplied records that the recipient replied to the message.
func MarkReplied(db *gorm.DB, id uint, at time.Time) error {
	return AdvanceStatus(db, id, models.MessageReplied, at)
}
