package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/workflow"
	"gorm.io/gorm"
)

const writeJobHandlerName = "accountingWriteJob"

// processWriteJob pushes one coalesced mutation to the external system. The
// job carries only ids; the live record is re-resolved here so the write
// always reflects current state, not the state at enqueue time.
func processWriteJob(ctx context.Context, payload WriteJobMessage) error {
	if payload.JobId == 0 || payload.BusinessId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)
	if payload.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
	}
	db := config.GetDB().WithContext(ctx)

	messageId := strconv.Itoa(payload.JobId)
	skip, err := workflow.BeginIdempotency(db, payload.BusinessId, writeJobHandlerName, messageId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	// Writes to one external ledger are serialized per tenant so creates and
	// their dependent updates cannot race.
	release, err := utils.BusinessLock(ctx, payload.BusinessId, "accountingWrite:"+payload.Provider, "syncengine", "processWriteJob")
	if err != nil {
		return err
	}
	defer release()

	if err := executeWriteJob(ctx, payload); err != nil {
		_ = workflow.MarkIdempotencyFailed(db, payload.BusinessId, writeJobHandlerName, messageId, err)
		config.LogError(config.GetLogger(), "syncengine", "processWriteJob",
			fmt.Sprintf("write job %d failed", payload.JobId), payload.BusinessId, err)
		return err
	}
	if err := workflow.MarkIdempotencySucceeded(db, payload.BusinessId, writeJobHandlerName, messageId); err != nil {
		return err
	}

	// Advance the monotonic write cursor for observability.
	return db.Model(&models.SyncProfile{}).
		Where("business_id = ? AND provider = ? AND write_cursor < ?", payload.BusinessId, payload.Provider, payload.JobId).
		Update("write_cursor", payload.JobId).Error
}

func executeWriteJob(ctx context.Context, payload WriteJobMessage) error {
	profile, err := models.GetSyncProfile(ctx, payload.BusinessId, payload.Provider)
	if err != nil {
		return err
	}
	if profile == nil || profile.Status != models.SyncProfileStatusConnected {
		// Disconnected between enqueue and delivery; drop without error.
		return nil
	}
	if profile.Enabled == nil || !*profile.Enabled {
		return nil
	}

	adapter, err := AdapterFor(payload.Provider)
	if err != nil {
		return err
	}
	writer := adapter.Writer()
	if err := writer.Initialize(ctx, profile); err != nil {
		return err
	}

	if payload.EventName == models.SyncEventDeleted {
		return writer.DeleteRecord(ctx, profile, payload.EntityType, payload.EntityId)
	}

	rec, err := resolveRecord(ctx, payload.EntityType, payload.EntityId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted after the event was spooled; the delete event handles it.
			return nil
		}
		return err
	}

	switch payload.EventName {
	case models.SyncEventCreated:
		return writer.CreateRecord(ctx, profile, rec)
	case models.SyncEventUpdated:
		return writer.UpdateRecord(ctx, profile, rec)
	default:
		return fmt.Errorf("unknown event %q", payload.EventName)
	}
}

func resolveRecord(ctx context.Context, entityType string, entityId int) (models.SyncableRecord, error) {
	switch entityType {
	case models.EntityTypeCustomer:
		rec, err := models.GetCustomer(ctx, entityId)
		return rec, err
	case models.EntityTypeInvoice:
		rec, err := models.GetInvoice(ctx, entityId)
		return rec, err
	case models.EntityTypePayment:
		rec, err := models.GetPayment(ctx, entityId)
		return rec, err
	case models.EntityTypeLedgerTransaction:
		rec, err := models.GetLedgerTransaction(ctx, entityId)
		return rec, err
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}
