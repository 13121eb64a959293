package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

// qbooksWriter pushes internal records out. Mapping rules:
//   - create with an existing mapping degrades to update, so an
//     externally-sourced link is never overwritten and no duplicate external
//     object is created;
//   - update without a mapping degrades to create (the record was never
//     pushed, or the link was removed remotely).
type qbooksWriter struct {
	adapter *qbooksAdapter
}

func (w *qbooksWriter) Initialize(ctx context.Context, profile *models.SyncProfile) error {
	return w.adapter.connect(profile)
}

func writerPath(entityType string) (string, error) {
	if entityType == models.EntityTypeLedgerTransaction {
		return "/v1/journal_entries", nil
	}
	path, ok := qbooksEntityPaths[entityType]
	if !ok {
		return "", fmt.Errorf("unsupported entity type %q", entityType)
	}
	return path, nil
}

func (w *qbooksWriter) CreateRecord(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord) error {
	mapping, err := models.FindMappingByInternalId(ctx, profile.BusinessId, profile.Provider, rec.SyncEntityType(), strconv.Itoa(rec.RecordID()))
	if err != nil {
		return err
	}
	if mapping != nil {
		return w.doUpdate(ctx, profile, rec, mapping)
	}
	return w.doCreate(ctx, profile, rec)
}

func (w *qbooksWriter) UpdateRecord(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord) error {
	mapping, err := models.FindMappingByInternalId(ctx, profile.BusinessId, profile.Provider, rec.SyncEntityType(), strconv.Itoa(rec.RecordID()))
	if err != nil {
		return err
	}
	if mapping == nil {
		return w.doCreate(ctx, profile, rec)
	}
	return w.doUpdate(ctx, profile, rec, mapping)
}

func (w *qbooksWriter) DeleteRecord(ctx context.Context, profile *models.SyncProfile, entityType string, entityId int) error {
	mapping, err := models.FindMappingByInternalId(ctx, profile.BusinessId, profile.Provider, entityType, strconv.Itoa(entityId))
	if err != nil {
		return err
	}
	if mapping == nil {
		// Never pushed; nothing to delete remotely.
		return nil
	}
	path, err := writerPath(entityType)
	if err != nil {
		return &SyncError{Op: "delete " + entityType, Err: err}
	}
	if err := w.adapter.client.deleteObject(ctx, path+"/"+url.PathEscape(mapping.ExternalId)); err != nil {
		return &SyncError{Op: "delete " + entityType, Err: err}
	}
	return models.DeleteMapping(ctx, mapping.ID)
}

func (w *qbooksWriter) doCreate(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord) error {
	payload, err := w.payloadFor(ctx, profile, rec, "")
	if err != nil {
		return err
	}
	path, err := writerPath(rec.SyncEntityType())
	if err != nil {
		return &SyncError{Op: "create " + rec.SyncEntityType(), Err: err}
	}
	resp, err := w.adapter.client.postObject(ctx, path, payload)
	if err != nil {
		return &SyncError{Op: "create " + rec.SyncEntityType(), Err: err}
	}
	var created struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(resp, &created); err != nil || created.Id == "" {
		return &SyncError{Op: "create " + rec.SyncEntityType(), Err: errors.New("response missing id")}
	}
	return models.CreateMapping(ctx, &models.EntityMapping{
		BusinessId:        profile.BusinessId,
		Provider:          profile.Provider,
		EntityType:        rec.SyncEntityType(),
		ExternalId:        created.Id,
		InternalId:        strconv.Itoa(rec.RecordID()),
		Source:            models.MappingSourceInternal,
		LastConfirmedHash: fingerprintOf(payload),
	})
}

func (w *qbooksWriter) doUpdate(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord, mapping *models.EntityMapping) error {
	payload, err := w.payloadFor(ctx, profile, rec, mapping.ExternalId)
	if err != nil {
		return err
	}
	if mapping.LastConfirmedHash == fingerprintOf(payload) {
		// Nothing changed since the last confirmed push.
		return nil
	}
	path, err := writerPath(rec.SyncEntityType())
	if err != nil {
		return &SyncError{Op: "update " + rec.SyncEntityType(), Err: err}
	}
	if _, err := w.adapter.client.putObject(ctx, path+"/"+url.PathEscape(mapping.ExternalId), payload); err != nil {
		return &SyncError{Op: "update " + rec.SyncEntityType(), Err: err}
	}
	return models.TouchMapping(ctx, mapping.ID, mapping.InternalId, fingerprintOf(payload))
}

// externalIdOf resolves the external counterpart of a referenced internal
// record. References must already be mapped; an unmapped reference is a
// configuration/ordering error for this write.
func externalIdOf(ctx context.Context, profile *models.SyncProfile, entityType string, internalId int) (string, error) {
	if internalId == 0 {
		return "", nil
	}
	mapping, err := models.FindMappingByInternalId(ctx, profile.BusinessId, profile.Provider, entityType, strconv.Itoa(internalId))
	if err != nil {
		return "", err
	}
	if mapping == nil {
		return "", &SyncError{Op: "resolveReference", Err: fmt.Errorf("%s %d is not mapped to %s yet", entityType, internalId, profile.Provider)}
	}
	return mapping.ExternalId, nil
}

func (w *qbooksWriter) payloadFor(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord, externalId string) (any, error) {
	ctx = utils.SetBusinessIdInContext(ctx, profile.BusinessId)
	switch r := rec.(type) {
	case models.Customer:
		return qbooksCustomerPayload{
			Id:          externalId,
			DisplayName: r.Name,
			Email:       r.Email,
			Phone:       r.Phone,
			Currency:    r.Currency,
			Status:      "active",
		}, nil
	case models.Invoice:
		return w.invoicePayload(ctx, profile, r, externalId)
	case models.Payment:
		return w.paymentPayload(ctx, profile, r, externalId)
	case models.LedgerTransaction:
		return journalEntryPayload{
			Id:          externalId,
			AccountCode: r.AccountCode,
			Direction:   string(r.Direction),
			Amount:      r.Amount.String(),
			Currency:    r.Currency,
			TxnDate:     r.TransactionDate.Format("2006-01-02"),
			Reference:   fmt.Sprintf("%s:%d", r.ReferenceType, r.ReferenceId),
		}, nil
	default:
		return nil, &SyncError{Op: "payloadFor", Err: fmt.Errorf("unsupported record type %T", rec)}
	}
}

type journalEntryPayload struct {
	Id          string `json:"id,omitempty"`
	AccountCode string `json:"account_code"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	TxnDate     string `json:"txn_date"`
	Reference   string `json:"reference"`
}

func (w *qbooksWriter) invoicePayload(ctx context.Context, profile *models.SyncProfile, invoice models.Invoice, externalId string) (any, error) {
	customerExtId, err := externalIdOf(ctx, profile, models.EntityTypeCustomer, invoice.CustomerId)
	if err != nil {
		return nil, err
	}
	payload := qbooksInvoicePayload{
		Id:         externalId,
		CustomerId: customerExtId,
		Number:     invoice.InvoiceNumber,
		Reference:  invoice.ReferenceNumber,
		TxnDate:    invoice.InvoiceDate.Format("2006-01-02"),
		Currency:   invoice.Currency,
		Status:     string(invoice.CurrentStatus),
	}
	if invoice.DueDate != nil {
		payload.DueDate = invoice.DueDate.Format("2006-01-02")
	}
	for _, d := range invoice.Details {
		payload.Lines = append(payload.Lines, qbooksInvoiceLinePayload{
			Description: d.Name,
			Qty:         d.Qty.String(),
			UnitPrice:   d.UnitRate.String(),
			TaxAmount:   d.TaxAmount.String(),
		})
	}
	return payload, nil
}

func (w *qbooksWriter) paymentPayload(ctx context.Context, profile *models.SyncProfile, payment models.Payment, externalId string) (any, error) {
	rule, err := MatchPaymentAccount(PaymentRoute{
		Currency:        payment.Currency,
		Method:          payment.Method,
		MerchantAccount: payment.MerchantAccount,
	}, models.DecodeRoutingRules(profile.RoutingRulesJSON))
	if err != nil {
		return nil, err
	}
	customerExtId, err := externalIdOf(ctx, profile, models.EntityTypeCustomer, payment.CustomerId)
	if err != nil {
		return nil, err
	}
	invoiceExtId, err := externalIdOf(ctx, profile, models.EntityTypeInvoice, payment.InvoiceId)
	if err != nil {
		return nil, err
	}
	return qbooksPaymentPayload{
		Id:               externalId,
		CustomerId:       customerExtId,
		InvoiceId:        invoiceExtId,
		TxnDate:          payment.PaymentDate.Format("2006-01-02"),
		Amount:           payment.Amount.String(),
		Currency:         payment.Currency,
		Method:           payment.Method,
		DepositAccount:   rule.TargetAccount,
		UndepositedFunds: rule.UndepositedFunds,
	}, nil
}
