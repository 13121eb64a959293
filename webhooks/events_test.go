package webhooks

import (
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
)

func TestParseStripeDisputeEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_123",
		"type": "charge.dispute.created",
		"livemode": true,
		"data": {"object": {
			"id": "dp_456",
			"object": "dispute",
			"charge": "ch_789",
			"amount": 2500,
			"reason": "fraudulent",
			"status": "needs_response"
		}}
	}`)

	event, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindChargeback {
		t.Fatalf("expected chargeback, got %s", event.Kind)
	}
	if event.Environment != "production" {
		t.Fatalf("livemode delivery must classify as production, got %s", event.Environment)
	}
	if event.DerivedId != "evt_123" {
		t.Fatalf("expected gateway event id as identity, got %s", event.DerivedId)
	}
	if event.DisputeId != "dp_456" || event.ChargeId != "ch_789" {
		t.Fatalf("unexpected dispute/charge ids: %s / %s", event.DisputeId, event.ChargeId)
	}
	if event.Amount.String() != "25" {
		t.Fatalf("expected cents converted to major units, got %s", event.Amount)
	}
}

func TestParseStripeDerivedIdFallsBackToBodyHash(t *testing.T) {
	body := []byte(`{"type": "charge.succeeded", "data": {"object": {"id": "ch_1"}}}`)

	first, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	if first.DerivedId == "" {
		t.Fatal("expected a derived id even without a gateway event id")
	}
	// Re-deliveries of the identical body must derive the identical identity.
	if first.DerivedId != second.DerivedId {
		t.Fatalf("derived ids differ for the same body: %s vs %s", first.DerivedId, second.DerivedId)
	}
}

func TestParseStripeUnknownTypeIsIgnored(t *testing.T) {
	body := []byte(`{"id": "evt_9", "type": "account.updated", "data": {"object": {}}}`)

	event, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindIgnored {
		t.Fatalf("unrecognized types must classify as ignored, got %s", event.Kind)
	}
}

func TestParseStripeTokenizationEvent(t *testing.T) {
	body := []byte(`{"id": "evt_5", "type": "setup_intent.succeeded", "data": {"object": {"id": "seti_42", "status": "succeeded"}}}`)

	event, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindTokenization {
		t.Fatalf("expected tokenization, got %s", event.Kind)
	}
	if event.FlowToken != "seti_42" {
		t.Fatalf("expected flow token seti_42, got %s", event.FlowToken)
	}
	if event.Environment != "sandbox" {
		t.Fatalf("livemode=false must classify as sandbox, got %s", event.Environment)
	}
}

func TestParseBraintreeDisputeDerivedId(t *testing.T) {
	body := []byte(`{
		"kind": "dispute_opened",
		"environment": "production",
		"dispute": {
			"id": "dis_1",
			"amount": "42.50",
			"reason": "fraud",
			"status": "open",
			"transaction_id": "txn_7"
		}
	}`)

	event, err := ParseEvent(models.GatewayBraintree, body)
	if err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindChargeback {
		t.Fatalf("expected chargeback, got %s", event.Kind)
	}
	// Dispute lifecycle notifications carry no event id; identity is the
	// lifecycle stage plus dispute id so each stage processes exactly once.
	if event.DerivedId != "dispute_opened.dis_1" {
		t.Fatalf("unexpected derived id %s", event.DerivedId)
	}
	if event.ChargeId != "txn_7" {
		t.Fatalf("expected charge id from transaction_id, got %s", event.ChargeId)
	}
	if event.Amount.String() != "42.5" {
		t.Fatalf("unexpected amount %s", event.Amount)
	}
}

func TestParseBraintreePaymentEvent(t *testing.T) {
	body := []byte(`{
		"kind": "transaction_settled",
		"environment": "sandbox",
		"transaction": {"id": "txn_3", "amount": "10.00", "status": "settled"}
	}`)

	event, err := ParseEvent(models.GatewayBraintree, body)
	if err != nil {
		t.Fatal(err)
	}
	if event.Kind != EventKindPayment {
		t.Fatalf("expected payment, got %s", event.Kind)
	}
	if event.ChargeId != "txn_3" || event.Status != "settled" {
		t.Fatalf("unexpected charge/status: %s / %s", event.ChargeId, event.Status)
	}
	if event.Environment != "sandbox" {
		t.Fatalf("expected sandbox, got %s", event.Environment)
	}
}

func TestParseEventUnknownGateway(t *testing.T) {
	if _, err := ParseEvent("paypal", []byte(`{}`)); err == nil {
		t.Fatal("expected an error for an unregistered gateway")
	}
}
