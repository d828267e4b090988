package models

import (
	"time"

	"github.com/mmdatafocus/procurement_backend/config"
	"gorm.io/gorm"
)

// NotificationOutbox holds lifecycle events until the dispatcher publishes them after commit.
type NotificationOutbox struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType        string     `gorm:"size:40;index;not null" json:"event_type"`
	RequestId        int        `gorm:"index;not null" json:"request_id"`
	RequestKind      string     `gorm:"size:20;not null" json:"request_kind"`
	Folio            string     `gorm:"size:40" json:"folio"`
	Status           string     `gorm:"size:40" json:"status"`
	ExitId           *int       `json:"exit_id"`
	ActorId          int        `json:"actor_id"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func EnqueueNotification(tx *gorm.DB, rec *NotificationOutbox) error {
	if rec.PublishStatus == "" {
		rec.PublishStatus = OutboxPublishStatusPending
	}
	return tx.Create(rec).Error
}

func ConvertToNotificationMessage(record NotificationOutbox) config.NotificationMessage {
	return config.NotificationMessage{
		ID:            record.ID,
		EventType:     record.EventType,
		RequestId:     record.RequestId,
		RequestKind:   record.RequestKind,
		Folio:         record.Folio,
		Status:        record.Status,
		ExitId:        record.ExitId,
		ActorId:       record.ActorId,
		OccurredAt:    record.OccurredAt,
		CorrelationId: record.CorrelationId,
	}
}
