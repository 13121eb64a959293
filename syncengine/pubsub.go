package syncengine

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
)

func SyncRunTopicName() string {
	if v := strings.TrimSpace(os.Getenv("SYNC_RUN_TOPIC")); v != "" {
		return v
	}
	return "accounting-sync-runs"
}

func WriteJobTopicName() string {
	if v := strings.TrimSpace(os.Getenv("WRITE_JOB_TOPIC")); v != "" {
		return v
	}
	return "accounting-write-jobs"
}

// PubSubPushEnvelope is the push-delivery wrapper Pub/Sub wraps messages in.
type PubSubPushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageId   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func PublishSyncRun(c *gin.Context, runId uint, businessId string, provider string) error {
	_, err := config.PublishJSON(c.Request.Context(), SyncRunTopicName(), SyncRunMessage{
		RunId:      runId,
		BusinessId: businessId,
		Provider:   provider,
	})
	return err
}

// Push handlers always return 204: a non-2xx would make Pub/Sub redeliver
// malformed payloads forever. Processing errors are surfaced through run
// status and idempotency rows, and retried by returning 500 only when the
// failure is transient.

func SyncRunPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload SyncRunMessage
		if !decodePushEnvelope(c, &payload) || payload.RunId == 0 || payload.BusinessId == "" {
			c.Status(204)
			return
		}
		if err := processSyncRun(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "syncengine", "SyncRunPushHandler",
				"sync run processing failed", payload.BusinessId, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}

func WriteJobPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload WriteJobMessage
		if !decodePushEnvelope(c, &payload) || payload.JobId == 0 || payload.BusinessId == "" {
			c.Status(204)
			return
		}
		if err := processWriteJob(c.Request.Context(), payload); err != nil {
			config.LogError(config.GetLogger(), "syncengine", "WriteJobPushHandler",
				"write job processing failed", payload.BusinessId, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}

func decodePushEnvelope(c *gin.Context, payload any) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return false
	}
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	if err := json.Unmarshal(envelope.Message.Data, payload); err != nil {
		return false
	}
	return true
}
