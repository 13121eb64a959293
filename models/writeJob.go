package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
)

// Write-job publish statuses. Keep these as strings (DB values).
const (
	WriteJobStatusPending    = "PENDING"
	WriteJobStatusProcessing = "PROCESSING"
	WriteJobStatusSent       = "SENT"
	WriteJobStatusFailed     = "FAILED"
	WriteJobStatusDead       = "DEAD"
)

// WriteJob is the transactional-outbox row for one coalesced outbound write.
// The spool writes rows; the dispatcher publishes them to Pub/Sub with retry
// and backoff. The worker re-resolves the live record by id+type before
// writing — the row never carries the serialized object.
type WriteJob struct {
	ID               int        `gorm:"primary_key" json:"id"`
	BusinessId       string     `gorm:"index;not null" json:"business_id"`
	EntityType       string     `gorm:"size:50;not null" json:"entity_type"`
	EntityId         int        `gorm:"not null" json:"entity_id"`
	EventName        string     `gorm:"size:20;not null" json:"event_name"`
	Provider         string     `gorm:"size:50;not null" json:"provider"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`
	PublishedAt      *time.Time `json:"published_at"`
	CorrelationId    string     `gorm:"size:64" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateWriteJob records one pending outbound write. Called by the spool on
// flush, inside the caller's scope but outside any specific DB transaction:
// durability before publish is the point.
func CreateWriteJob(ctx context.Context, businessId string, entityType string, entityId int, eventName string, provider string) error {
	job := WriteJob{
		BusinessId:    businessId,
		EntityType:    entityType,
		EntityId:      entityId,
		EventName:     eventName,
		Provider:      provider,
		PublishStatus: WriteJobStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return config.GetDB().WithContext(ctx).Create(&job).Error
}
