package syncengine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

var syncedEntityTypes = []struct {
	entityType string
	enabled    func(SyncModules) bool
}{
	{models.EntityTypeCustomer, func(m SyncModules) bool { return m.Customers }},
	{models.EntityTypeInvoice, func(m SyncModules) bool { return m.Invoices }},
	{models.EntityTypePayment, func(m SyncModules) bool { return m.Payments }},
}

// processSyncRun executes one queued sync run end to end. Safe to redeliver:
// a finished run short-circuits, an interrupted run resumes from the last
// committed page cursor.
func processSyncRun(ctx context.Context, payload SyncRunMessage) error {
	if payload.RunId == 0 || payload.BusinessId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)
	db := config.GetDB().WithContext(ctx)

	var run models.SyncRun
	if err := db.Where("id = ? AND business_id = ?", payload.RunId, payload.BusinessId).Take(&run).Error; err != nil {
		return err
	}
	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	profile, err := models.GetSyncProfile(ctx, payload.BusinessId, run.Provider)
	if err != nil {
		return err
	}
	if profile == nil || profile.Status != models.SyncProfileStatusConnected {
		return errors.New(run.Provider + " is not connected")
	}

	// One active run per profile; a second delivery backs off via Pub/Sub.
	release, err := utils.BusinessLock(ctx, payload.BusinessId, "syncRun:"+run.Provider, "syncengine", "processSyncRun")
	if err != nil {
		return err
	}
	defer release()

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	adapter, err := AdapterFor(run.Provider)
	if err != nil {
		return finishRun(ctx, &run, profile, *startedAt, nil, 1)
	}
	if err := adapter.Extractor().Initialize(ctx, profile); err != nil {
		_ = models.CreateSyncRunError(ctx, run.ID, run.BusinessId, "", "", "connect_failed", err.Error(), nil, true)
		return finishRun(ctx, &run, profile, *startedAt, nil, 1)
	}
	if err := adapter.Transformer().Initialize(ctx, profile); err != nil {
		_ = models.CreateSyncRunError(ctx, run.ID, run.BusinessId, "", "", "connect_failed", err.Error(), nil, true)
		return finishRun(ctx, &run, profile, *startedAt, nil, 1)
	}

	modules := DecodeSyncModules(run.ModulesJSON)
	cursorState := DecodeCursorState(profile.CursorStateJSON)

	pipeline := &Pipeline{
		Extractor:   adapter.Extractor(),
		Transformer: adapter.Transformer(),
		Loader:      adapter.Loader(),
		Logger:      config.GetLogger(),
		CommitCursor: func(ctx context.Context, entityType string, cursor CursorEntry) error {
			cursorState[entityType] = cursor
			return models.CommitCursorState(ctx, profile.ID, run.ID, EncodeCursorState(cursorState))
		},
	}

	stats := map[string]models.EntityStats{}
	runFatalErrors := 0

	for _, entity := range syncedEntityTypes {
		if !entity.enabled(modules) {
			continue
		}
		query := queryFor(profile, cursorState[entity.entityType])
		result, err := pipeline.Run(ctx, profile, entity.entityType, query)
		stats[entity.entityType] = result.Stats
		for _, failure := range result.Failures {
			_ = models.CreateSyncRunError(ctx, run.ID, run.BusinessId,
				failure.EntityType, failure.ExternalId, failure.Code, failure.Message, nil, failure.Retryable)
		}
		if err != nil {
			runFatalErrors++
			_ = models.CreateSyncRunError(ctx, run.ID, run.BusinessId,
				entity.entityType, "", "sync_failed", err.Error(), nil, true)
			config.LogError(config.GetLogger(), "syncengine", "processSyncRun",
				"entity sync failed: "+entity.entityType, run.BusinessId, err)
		}
	}

	return finishRun(ctx, &run, profile, *startedAt, stats, runFatalErrors)
}

// queryFor starts from the committed cursor, falling back to the last
// successful sync, falling back to a 30-day backfill window.
func queryFor(profile *models.SyncProfile, cursor CursorEntry) ReadQuery {
	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if updatedSince == "" && profile.LastSuccessSyncAt != nil {
		updatedSince = profile.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}
	if updatedSince == "" {
		updatedSince = time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	return ReadQuery{
		UpdatedSince: updatedSince,
		Cursor:       strings.TrimSpace(cursor.Cursor),
		PageSize:     defaultPageSize,
	}
}

func finishRun(ctx context.Context, run *models.SyncRun, profile *models.SyncProfile, startedAt time.Time, stats map[string]models.EntityStats, fatalErrors int) error {
	db := config.GetDB().WithContext(ctx)
	finishedAt := time.Now()

	totalSynced := 0
	errorCount := fatalErrors
	for _, s := range stats {
		totalSynced += s.Synced()
		errorCount += s.Failed
	}

	status := models.SyncRunStatusSuccess
	if errorCount > 0 && totalSynced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	if err := db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
		"records_synced": totalSynced,
		"error_count":    errorCount,
		"stats_json":     models.EncodeRunStats(stats),
	}).Error; err != nil {
		return err
	}

	profileUpdates := map[string]interface{}{
		"last_sync_at": finishedAt,
	}
	if status == models.SyncRunStatusSuccess {
		profileUpdates["last_success_sync_at"] = finishedAt
	}
	return db.Model(&models.SyncProfile{}).
		Where("id = ? AND business_id = ?", profile.ID, run.BusinessId).
		Updates(profileUpdates).Error
}
