package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/shopspring/decimal"
)

// Event kinds after classification. Unrecognized gateway events classify as
// ignored and are acknowledged without work.
const (
	EventKindPayment      = "payment"
	EventKindRefund       = "refund"
	EventKindChargeback   = "chargeback"
	EventKindTokenization = "tokenization"
	EventKindIgnored      = "ignored"
)

// GatewayEvent is a gateway webhook delivery, normalized across gateways.
// DerivedId is the stable identity used for the idempotency lease: the
// gateway's own event id when it sends one, otherwise a hash of the body, so
// re-deliveries of the same event always derive the same id.
type GatewayEvent struct {
	Gateway     string
	Environment string
	DerivedId   string
	Kind        string
	GatewayType string

	ChargeId  string
	DisputeId string
	FlowToken string
	Amount    decimal.Decimal
	Reason    string
	Status    string
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ParseEvent decodes and classifies one raw delivery for the given gateway.
func ParseEvent(gateway string, body []byte) (*GatewayEvent, error) {
	switch gateway {
	case models.GatewayStripe:
		return parseStripeEvent(body)
	case models.GatewayBraintree:
		return parseBraintreeEvent(body)
	default:
		return nil, errors.New("unknown gateway " + gateway)
	}
}

type stripeEnvelope struct {
	Id       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object struct {
			Id     string      `json:"id"`
			Object string      `json:"object"`
			Charge string      `json:"charge"`
			Amount json.Number `json:"amount"`
			Reason string      `json:"reason"`
			Status string      `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func parseStripeEvent(body []byte) (*GatewayEvent, error) {
	var raw stripeEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	event := &GatewayEvent{
		Gateway:     models.GatewayStripe,
		GatewayType: raw.Type,
		DerivedId:   raw.Id,
		Environment: "sandbox",
		Reason:      raw.Data.Object.Reason,
		Status:      raw.Data.Object.Status,
	}
	if raw.Livemode {
		event.Environment = "production"
	}
	if event.DerivedId == "" {
		event.DerivedId = bodyHash(body)
	}
	if cents, err := decimal.NewFromString(raw.Data.Object.Amount.String()); err == nil {
		event.Amount = cents.Div(decimal.NewFromInt(100))
	}

	switch {
	case strings.HasPrefix(raw.Type, "charge.dispute."):
		event.Kind = EventKindChargeback
		event.DisputeId = raw.Data.Object.Id
		event.ChargeId = raw.Data.Object.Charge
	case raw.Type == "charge.refunded" || strings.HasPrefix(raw.Type, "refund."):
		event.Kind = EventKindRefund
		event.ChargeId = firstNonEmpty(raw.Data.Object.Charge, raw.Data.Object.Id)
	case raw.Type == "charge.succeeded" || raw.Type == "charge.failed" || strings.HasPrefix(raw.Type, "payment_intent."):
		event.Kind = EventKindPayment
		event.ChargeId = firstNonEmpty(raw.Data.Object.Charge, raw.Data.Object.Id)
	case strings.HasPrefix(raw.Type, "setup_intent.") || strings.HasPrefix(raw.Type, "payment_method."):
		event.Kind = EventKindTokenization
		event.FlowToken = raw.Data.Object.Id
	default:
		event.Kind = EventKindIgnored
	}
	return event, nil
}

type braintreeEnvelope struct {
	Kind        string `json:"kind"`
	Environment string `json:"environment"`
	Dispute     struct {
		Id            string      `json:"id"`
		Amount        json.Number `json:"amount"`
		Reason        string      `json:"reason"`
		Status        string      `json:"status"`
		TransactionId string      `json:"transaction_id"`
	} `json:"dispute"`
	Transaction struct {
		Id     string      `json:"id"`
		Amount json.Number `json:"amount"`
		Status string      `json:"status"`
	} `json:"transaction"`
	PaymentMethod struct {
		Token string `json:"token"`
	} `json:"payment_method"`
}

func parseBraintreeEvent(body []byte) (*GatewayEvent, error) {
	var raw braintreeEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	event := &GatewayEvent{
		Gateway:     models.GatewayBraintree,
		GatewayType: raw.Kind,
		DerivedId:   bodyHash(body),
		Environment: "sandbox",
	}
	if strings.EqualFold(raw.Environment, "production") {
		event.Environment = "production"
	}

	switch raw.Kind {
	case "dispute_opened", "dispute_lost", "dispute_won", "dispute_accepted":
		event.Kind = EventKindChargeback
		event.DisputeId = raw.Dispute.Id
		event.ChargeId = raw.Dispute.TransactionId
		event.Reason = raw.Dispute.Reason
		event.Status = raw.Dispute.Status
		if amt, err := decimal.NewFromString(raw.Dispute.Amount.String()); err == nil {
			event.Amount = amt
		}
	case "transaction_settled", "transaction_settlement_declined":
		event.Kind = EventKindPayment
		event.ChargeId = raw.Transaction.Id
		event.Status = raw.Transaction.Status
		if amt, err := decimal.NewFromString(raw.Transaction.Amount.String()); err == nil {
			event.Amount = amt
		}
	case "refund_settled", "transaction_refunded":
		event.Kind = EventKindRefund
		event.ChargeId = raw.Transaction.Id
	case "payment_method_revoked_by_customer", "payment_method_customer_data_updated":
		event.Kind = EventKindTokenization
		event.FlowToken = raw.PaymentMethod.Token
	default:
		event.Kind = EventKindIgnored
	}
	if event.DisputeId != "" && event.Kind == EventKindChargeback {
		event.DerivedId = raw.Kind + "." + event.DisputeId
	}
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
