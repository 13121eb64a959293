package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
)

func rawObject(t *testing.T, entityType string, externalId string, body string) *qbooksObject {
	t.Helper()
	return &qbooksObject{entityType: entityType, externalId: externalId, raw: json.RawMessage(body)}
}

func TestTransformInactiveCustomerIsSkipped(t *testing.T) {
	var tr qbooksTransformer
	rec, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeCustomer, "c1",
		`{"id": "c1", "display_name": "Acme", "status": "inactive"}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("inactive customer must skip, got %+v", rec)
	}
}

func TestTransformCustomerMissingNameFails(t *testing.T) {
	var tr qbooksTransformer
	_, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeCustomer, "c1",
		`{"id": "c1", "email": "a@b.example"}`))
	var transformErr *TransformError
	if !errors.As(err, &transformErr) {
		t.Fatalf("expected *TransformError, got %T", err)
	}
	if transformErr.ExternalId != "c1" {
		t.Fatalf("error must carry the external id, got %s", transformErr.ExternalId)
	}
}

func TestTransformCustomerNormalizesCurrency(t *testing.T) {
	var tr qbooksTransformer
	rec, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeCustomer, "c1",
		`{"id": "c1", "display_name": "Acme", "currency": "usd"}`))
	if err != nil {
		t.Fatal(err)
	}
	customer, ok := rec.(*CustomerRecord)
	if !ok {
		t.Fatalf("expected *CustomerRecord, got %T", rec)
	}
	if customer.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %s", customer.Currency)
	}
}

func TestTransformEstimateInvoiceIsSkipped(t *testing.T) {
	var tr qbooksTransformer
	rec, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeInvoice, "inv1",
		`{"id": "inv1", "customer_id": "c1", "status": "estimate", "txn_date": "2026-08-01"}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("estimate must skip, got %+v", rec)
	}
}

func TestTransformInvoice(t *testing.T) {
	var tr qbooksTransformer
	rec, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeInvoice, "inv1", `{
		"id": "inv1",
		"customer_id": "c1",
		"number": "INV-001",
		"txn_date": "2026-08-15",
		"due_date": "2026-09-14",
		"currency": "eur",
		"status": "open",
		"lines": [
			{"description": "Subscription", "qty": "2", "unit_price": "49.99", "tax_amount": "9.50"},
			{"description": "Setup fee", "unit_price": "100"}
		]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	invoice, ok := rec.(*InvoiceRecord)
	if !ok {
		t.Fatalf("expected *InvoiceRecord, got %T", rec)
	}
	if len(invoice.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(invoice.Lines))
	}
	if invoice.Lines[0].UnitRate.String() != "49.99" {
		t.Fatalf("unexpected unit rate %s", invoice.Lines[0].UnitRate)
	}
	// Missing qty defaults to 1.
	if invoice.Lines[1].Qty.String() != "1" {
		t.Fatalf("expected default qty 1, got %s", invoice.Lines[1].Qty)
	}
	if invoice.DueDate == nil || invoice.DueDate.Format("2006-01-02") != "2026-09-14" {
		t.Fatalf("unexpected due date %v", invoice.DueDate)
	}
	if invoice.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", invoice.Currency)
	}
}

func TestTransformInvoiceBadDateFails(t *testing.T) {
	var tr qbooksTransformer
	_, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeInvoice, "inv1",
		`{"id": "inv1", "customer_id": "c1", "txn_date": "15/08/2026", "lines": [{"description": "x"}]}`))
	var transformErr *TransformError
	if !errors.As(err, &transformErr) {
		t.Fatalf("expected *TransformError for unparseable date, got %T", err)
	}
}

func TestTransformInvoiceWithoutLinesFails(t *testing.T) {
	var tr qbooksTransformer
	_, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypeInvoice, "inv1",
		`{"id": "inv1", "customer_id": "c1", "txn_date": "2026-08-15", "lines": []}`))
	var transformErr *TransformError
	if !errors.As(err, &transformErr) {
		t.Fatalf("expected *TransformError for empty lines, got %T", err)
	}
}

func TestTransformPayment(t *testing.T) {
	var tr qbooksTransformer
	rec, err := tr.Transform(context.Background(), rawObject(t, models.EntityTypePayment, "p1",
		`{"id": "p1", "customer_id": "c1", "invoice_id": "inv1", "txn_date": "2026-08-20T10:30:00Z", "amount": "150.00", "currency": "usd", "method": "card"}`))
	if err != nil {
		t.Fatal(err)
	}
	payment, ok := rec.(*PaymentRecord)
	if !ok {
		t.Fatalf("expected *PaymentRecord, got %T", rec)
	}
	if payment.Amount.String() != "150" {
		t.Fatalf("unexpected amount %s", payment.Amount)
	}
	if payment.InvoiceExternalId != "inv1" {
		t.Fatalf("unexpected invoice reference %s", payment.InvoiceExternalId)
	}
}

func TestFingerprintIsStableAndChangeSensitive(t *testing.T) {
	a := &CustomerRecord{ExternalId: "c1", Name: "Acme", Currency: "USD"}
	b := &CustomerRecord{ExternalId: "c1", Name: "Acme", Currency: "USD"}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical records must share a fingerprint")
	}
	b.Email = "billing@acme.example"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("changed records must change fingerprint")
	}
}

func TestResolveAuthSecretEnvRef(t *testing.T) {
	t.Setenv("QBOOKS_TEST_SECRET", "s3cret")
	if got := resolveAuthSecret("env:QBOOKS_TEST_SECRET"); got != "s3cret" {
		t.Fatalf("expected env deref, got %q", got)
	}
	if got := resolveAuthSecret("plain-token"); got != "plain-token" {
		t.Fatalf("expected plain value passthrough, got %q", got)
	}
}
