package webhooks

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func WebhookJobTopicName() string {
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_JOB_TOPIC")); v != "" {
		return v
	}
	return "gateway-webhook-jobs"
}

const webhookJobHandlerName = "gatewayWebhook"

// WebhookJobMessage is the queued form of an accepted, tenant-resolved event.
type WebhookJobMessage struct {
	Gateway      string          `json:"gateway"`
	Kind         string          `json:"kind"`
	GatewayType  string          `json:"gateway_type"`
	DerivedId    string          `json:"derived_id"`
	BusinessId   string          `json:"business_id"`
	PaymentId    int             `json:"payment_id"`
	ChargeId     string          `json:"charge_id"`
	DisputeId    string          `json:"dispute_id"`
	FlowToken    string          `json:"flow_token"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Status       string          `json:"status"`
	DelaySeconds int             `json:"delay_seconds"`
}

// Dispatch resolves the owning tenant and queues the event for processing.
// Tenant resolution is the one deliberately tenant-unscoped step in the
// system: the event references gateway ids, not tenants. Everything after
// this point runs re-scoped to the business found.
func Dispatch(ctx context.Context, event *GatewayEvent) error {
	if event.Kind == EventKindIgnored {
		_, _ = config.IncrRedisCounter(ctx, counterKey("ignored", event.Gateway))
		return nil
	}

	businessId, paymentId, err := resolveTenant(ctx, event)
	if err != nil {
		return err
	}
	if businessId == "" {
		// Nothing to attach this event to; drop but count, so a spike is
		// visible on the dashboard.
		_, _ = config.IncrRedisCounter(ctx, counterKey("unresolved_tenant", event.Gateway))
		config.GetLogger().WithFields(logrus.Fields{
			"module":       "webhooks",
			"gateway":      event.Gateway,
			"gateway_type": event.GatewayType,
			"derived_id":   event.DerivedId,
		}).Warn("could not resolve tenant for webhook event")
		return nil
	}

	msg := WebhookJobMessage{
		Gateway:      event.Gateway,
		Kind:         event.Kind,
		GatewayType:  event.GatewayType,
		DerivedId:    event.DerivedId,
		BusinessId:   businessId,
		PaymentId:    paymentId,
		ChargeId:     event.ChargeId,
		DisputeId:    event.DisputeId,
		FlowToken:    event.FlowToken,
		Amount:       event.Amount,
		Reason:       event.Reason,
		Status:       event.Status,
		DelaySeconds: delaySecondsFor(event.Kind),
	}
	_, err = config.PublishJSON(ctx, WebhookJobTopicName(), msg)
	return err
}

// Payment events wait briefly so the platform transaction that created the
// payment row has committed before the job looks it up.
func delaySecondsFor(kind string) int {
	if kind == EventKindPayment {
		return 30
	}
	return 0
}

func resolveTenant(ctx context.Context, event *GatewayEvent) (businessId string, paymentId int, err error) {
	if event.Kind == EventKindChargeback && event.DisputeId != "" {
		dispute, err := models.FindDisputeByGatewayDisputeId(ctx, event.Gateway, event.DisputeId)
		if err != nil {
			return "", 0, err
		}
		if dispute != nil {
			return dispute.BusinessId, dispute.PaymentId, nil
		}
	}
	if event.ChargeId != "" {
		payment, err := models.FindPaymentByGatewayChargeId(ctx, event.Gateway, event.ChargeId)
		if err != nil {
			return "", 0, err
		}
		if payment != nil {
			return payment.BusinessId, payment.ID, nil
		}
	}
	if event.Kind == EventKindTokenization && event.FlowToken != "" {
		flow, err := models.FindPaymentFlowByToken(ctx, event.Gateway, event.FlowToken)
		if err != nil {
			return "", 0, err
		}
		if flow != nil {
			return flow.BusinessId, 0, nil
		}
	}
	return "", 0, nil
}

// processWebhookJob applies one queued event inside the tenant's scope,
// guarded by the durable idempotency key so Pub/Sub redelivery is safe.
func processWebhookJob(ctx context.Context, msg WebhookJobMessage) error {
	if msg.BusinessId == "" || msg.DerivedId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetBusinessIdInContext(ctx, msg.BusinessId)
	db := config.GetDB().WithContext(ctx)

	skip, err := workflow.BeginIdempotency(db, msg.BusinessId, webhookJobHandlerName, msg.DerivedId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if err := applyWebhookJob(ctx, msg); err != nil {
		_ = workflow.MarkIdempotencyFailed(db, msg.BusinessId, webhookJobHandlerName, msg.DerivedId, err)
		return err
	}
	return workflow.MarkIdempotencySucceeded(db, msg.BusinessId, webhookJobHandlerName, msg.DerivedId)
}

func applyWebhookJob(ctx context.Context, msg WebhookJobMessage) error {
	switch msg.Kind {
	case EventKindPayment:
		return applyPaymentEvent(ctx, msg)
	case EventKindRefund:
		if msg.PaymentId == 0 {
			return nil
		}
		return models.UpdatePaymentStatus(ctx, msg.PaymentId, models.PaymentStatusRefunded)
	case EventKindChargeback:
		return applyChargebackEvent(ctx, msg)
	case EventKindTokenization:
		return applyTokenizationEvent(ctx, msg)
	default:
		return nil
	}
}

func applyPaymentEvent(ctx context.Context, msg WebhookJobMessage) error {
	if msg.PaymentId == 0 {
		return nil
	}
	status := models.PaymentStatusSucceeded
	lowered := strings.ToLower(msg.Status)
	if strings.Contains(lowered, "fail") || strings.Contains(lowered, "declined") {
		status = models.PaymentStatusFailed
	}
	return models.UpdatePaymentStatus(ctx, msg.PaymentId, status)
}

func applyChargebackEvent(ctx context.Context, msg WebhookJobMessage) error {
	db := config.GetDB().WithContext(ctx)

	existing, err := models.FindDisputeByGatewayDisputeId(ctx, msg.Gateway, msg.DisputeId)
	if err != nil {
		return err
	}
	if existing != nil {
		return db.Model(existing).Updates(map[string]interface{}{
			"status": msg.Status,
			"reason": msg.Reason,
		}).Error
	}
	return db.Create(&models.Dispute{
		BusinessId:       msg.BusinessId,
		PaymentId:        msg.PaymentId,
		Gateway:          msg.Gateway,
		GatewayDisputeId: msg.DisputeId,
		GatewayChargeId:  msg.ChargeId,
		Amount:           msg.Amount,
		Reason:           msg.Reason,
		Status:           msg.Status,
	}).Error
}

func applyTokenizationEvent(ctx context.Context, msg WebhookJobMessage) error {
	flow, err := models.FindPaymentFlowByToken(ctx, msg.Gateway, msg.FlowToken)
	if err != nil {
		return err
	}
	if flow == nil {
		return nil
	}
	return config.GetDB().WithContext(ctx).
		Model(flow).
		Update("status", "completed").Error
}
