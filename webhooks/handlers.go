package webhooks

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
)

// IngressHandler receives raw gateway deliveries. It always returns 200 for
// anything parseable: gateways disable endpoints that keep failing, and
// every drop reason (wrong env, duplicate, unresolved tenant) is a counter,
// not an error.
func IngressHandler(gateway string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil || len(body) == 0 {
			c.Status(400)
			return
		}

		event, err := ParseEvent(gateway, body)
		if err != nil {
			_, _ = config.IncrRedisCounter(c.Request.Context(), counterKey("unparseable", gateway))
			c.Status(400)
			return
		}

		process, err := ShouldProcess(c.Request.Context(), event)
		if err != nil {
			// Lease check failed (Redis down); 500 so the gateway redelivers.
			c.Status(500)
			return
		}
		if !process {
			c.Status(200)
			return
		}

		if err := Dispatch(c.Request.Context(), event); err != nil {
			config.LogError(config.GetLogger(), "webhooks", "IngressHandler",
				"failed to dispatch webhook event", event.Gateway, err)
			c.Status(500)
			return
		}
		c.Status(200)
	}
}

type pushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// JobPushHandler consumes queued webhook jobs from Pub/Sub push delivery.
func JobPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}
		var envelope pushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}
		var msg WebhookJobMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			c.Status(204)
			return
		}
		if err := processWebhookJob(c.Request.Context(), msg); err != nil {
			config.LogError(config.GetLogger(), "webhooks", "JobPushHandler",
				"webhook job processing failed", msg.BusinessId, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}
