package syncengine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

var validate = validator.New()

// resolveBusinessID trusts the upstream auth proxy's header. Requests that
// reach this service without it are rejected.
func resolveBusinessID(c *gin.Context) (string, error) {
	businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
	if businessId == "" {
		return "", errors.New("unauthorized")
	}
	return businessId, nil
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		provider := strings.TrimSpace(c.Param("provider"))
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		profile, err := models.GetSyncProfile(ctx, businessId, provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if profile == nil {
			c.JSON(http.StatusOK, ProfileStatusResponse{
				Provider: provider,
				Status:   models.SyncProfileStatusDisconnected,
				Modules:  DefaultSyncModules(),
			})
			return
		}
		c.JSON(http.StatusOK, ProfileStatusResponse{
			Provider:          profile.Provider,
			Status:            profile.Status,
			Enabled:           profile.Enabled != nil && *profile.Enabled,
			Modules:           DecodeSyncModules(profile.SettingsJSON),
			LastSyncAt:        formatTime(profile.LastSyncAt),
			LastSuccessSyncAt: formatTime(profile.LastSuccessSyncAt),
		})
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectProfileInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if _, err := AdapterFor(req.Provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
			return
		}
		for _, rule := range req.RoutingRules {
			if err := validate.Struct(rule); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "routing rule requires target_account"})
				return
			}
		}

		modules := DefaultSyncModules()
		if req.Modules != nil {
			modules = *req.Modules
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		profile, err := models.GetSyncProfile(ctx, businessId, req.Provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if profile == nil {
			profile = &models.SyncProfile{
				BusinessId:        businessId,
				Provider:          req.Provider,
				Status:            models.SyncProfileStatusConnected,
				Enabled:           utils.NewTrue(),
				AuthSecretRef:     req.AuthSecretRef,
				ExternalAccountId: req.ExternalAccountId,
				SettingsJSON:      EncodeSyncModules(modules),
				RoutingRulesJSON:  models.EncodeRoutingRules(req.RoutingRules),
			}
			if err := db.Create(profile).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":              models.SyncProfileStatusConnected,
				"enabled":             true,
				"auth_secret_ref":     req.AuthSecretRef,
				"external_account_id": req.ExternalAccountId,
				"updated_at":          time.Now(),
			}
			if req.Modules != nil || len(profile.SettingsJSON) == 0 {
				update["settings_json"] = EncodeSyncModules(modules)
			}
			if len(req.RoutingRules) > 0 {
				update["routing_rules_json"] = models.EncodeRoutingRules(req.RoutingRules)
			}
			if err := db.Model(profile).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		provider := strings.TrimSpace(c.Param("provider"))
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		profile, err := models.GetSyncProfile(ctx, businessId, provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if profile == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		// Mappings and run history survive a disconnect; only credentials and
		// connection state are cleared.
		if err := db.Model(profile).Updates(map[string]interface{}{
			"status":          models.SyncProfileStatusDisconnected,
			"auth_secret_ref": "",
			"updated_at":      time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		profile, err := models.GetSyncProfile(ctx, businessId, req.Provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if profile == nil || profile.Status != models.SyncProfileStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": req.Provider + " is not connected"})
			return
		}

		if req.Full {
			// A full sync restarts from the backfill window.
			if err := db.Model(profile).Update("cursor_state_json", EncodeCursorState(CursorState{})).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		run := models.SyncRun{
			BusinessId:  businessId,
			ProfileId:   profile.ID,
			Provider:    req.Provider,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
			ModulesJSON: profile.SettingsJSON,
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c, run.ID, businessId, req.Provider)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// ResyncRecordHandler re-imports one external record immediately, for support
// flows where a single object is known to be stale or was fixed upstream.
func ResyncRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		provider := strings.TrimSpace(c.Param("provider"))

		var req ResyncRecordInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		profile, err := models.GetSyncProfile(ctx, businessId, provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if profile == nil || profile.Status != models.SyncProfileStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": provider + " is not connected"})
			return
		}

		adapter, err := AdapterFor(provider)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
			return
		}
		if err := adapter.Extractor().Initialize(ctx, profile); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := adapter.Transformer().Initialize(ctx, profile); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		pipeline := &Pipeline{
			Extractor:   adapter.Extractor(),
			Transformer: adapter.Transformer(),
			Loader:      adapter.Loader(),
			Logger:      config.GetLogger(),
		}
		result, err := pipeline.ResyncRecord(ctx, profile, req.EntityType, req.ExternalId)
		if err != nil {
			var extractErr *ExtractError
			if errors.As(err, &extractErr) {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if result == nil {
			c.JSON(http.StatusOK, gin.H{"outcome": "skipped"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": string(result.Outcome), "internal_id": result.InternalId})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		provider := strings.TrimSpace(c.Param("provider"))

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.SyncRun
		if err := db.Where("business_id = ? AND provider = ?", businessId, provider).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var runErrors []models.SyncRunError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&runErrors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncErrorResponse, 0, len(runErrors))
		for _, item := range runErrors {
			items = append(items, SyncErrorResponse{
				ID:         item.ID,
				EntityType: item.EntityType,
				ExternalId: item.ExternalId,
				ErrorCode:  item.ErrorCode,
				Message:    item.Message,
				Retryable:  item.Retryable,
			})
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          items,
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.SyncRun{
			BusinessId:  businessId,
			ProfileId:   run.ProfileId,
			Provider:    run.Provider,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ModulesJSON: run.ModulesJSON,
			ParentRunId: &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c, newRun.ID, businessId, run.Provider)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
	}
}
