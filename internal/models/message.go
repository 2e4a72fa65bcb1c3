package models

import "time"

// Priority classifies how urgent a message (and the loop it opens) is.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// MessageStatus is the delivery lifecycle of a message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageSeen      MessageStatus = "seen"
	MessageReplied   MessageStatus = "replied"
)

// Rank orders statuses along the lifecycle. Transitions are only valid in
// increasing rank, so re-applying an earlier status is a no-op.
func (s MessageStatus) Rank() int {
	switch s {
	case MessagePending:
		return 0
	case MessageDelivered:
		return 1
	case MessageSeen:
		return 2
	case MessageReplied:
		return 3
	}
	return -1
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	return s.Rank() >= 0
}

// Message represents one agent-to-agent communication. Messages are
// append-only: rows are created on send and mutated only by
// status-advancing events, never deleted.
type Message struct {
	ID        uint          `gorm:"primaryKey;autoIncrement"`
	FromAgent string        `gorm:"size:64;not null;index:idx_msg_pair"`
	ToAgent   string        `gorm:"size:64;not null;index:idx_msg_pair"`
	Content   string        `gorm:"type:text"`
	Priority  Priority      `gorm:"size:8;default:normal"`
	Status    MessageStatus `gorm:"size:16;default:pending;index"`
	SentAt    time.Time     `gorm:"index"`
	SeenAt    *time.Time
	RepliedAt *time.Time
}
