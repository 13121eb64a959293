package syncengine

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WriteJobDispatcher drains the write-job outbox into Pub/Sub. Rows are
// claimed with SKIP LOCKED so multiple instances can run side by side;
// publish failures back off exponentially and park as DEAD after
// MaxAttempts. At-least-once delivery is safe because the worker is
// idempotent per job id.
type WriteJobDispatcher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
}

func NewWriteJobDispatcher(db *gorm.DB, logger *logrus.Logger) *WriteJobDispatcher {
	return &WriteJobDispatcher{
		DB:          db,
		Logger:      logger,
		WorkerID:    "dispatcher-" + time.Now().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 8,
	}
}

func (d *WriteJobDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *WriteJobDispatcher) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTTL)

	var claimed []models.WriteJob
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{models.WriteJobStatusPending, models.WriteJobStatusFailed}).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.WriteJob{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"publish_status": models.WriteJobStatusProcessing,
					"locked_at":      &now,
					"locked_by":      &d.WorkerID,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, job := range claimed {
		d.publishOne(ctx, job)
	}
}

func (d *WriteJobDispatcher) publishOne(ctx context.Context, job models.WriteJob) {
	messageId, err := config.PublishJSON(ctx, WriteJobTopicName(), WriteJobMessage{
		JobId:         job.ID,
		BusinessId:    job.BusinessId,
		EntityType:    job.EntityType,
		EntityId:      job.EntityId,
		EventName:     job.EventName,
		Provider:      job.Provider,
		CorrelationId: job.CorrelationId,
	})
	if err != nil {
		attempts := job.PublishAttempts + 1
		status := models.WriteJobStatusFailed
		if attempts >= d.MaxAttempts {
			status = models.WriteJobStatusDead
		}
		errMsg := err.Error()
		nextAttempt := time.Now().UTC().Add(backoffDelay(attempts))
		_ = d.DB.WithContext(ctx).Model(&models.WriteJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"publish_status":     status,
				"publish_attempts":   attempts,
				"last_publish_error": &errMsg,
				"next_attempt_at":    &nextAttempt,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"module":      "writeJobDispatcher",
				"business_id": job.BusinessId,
				"job_id":      job.ID,
				"attempts":    attempts,
				"status":      status,
			}).Error("failed to publish write job: " + errMsg)
		}
		return
	}

	publishedAt := time.Now().UTC()
	_ = d.DB.WithContext(ctx).Model(&models.WriteJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.WriteJobStatusSent,
			"publish_attempts":   job.PublishAttempts + 1,
			"pub_sub_message_id": &messageId,
			"published_at":       &publishedAt,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func backoffDelay(attempts int) time.Duration {
	delay := time.Duration(1<<uint(attempts)) * time.Second
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}
