package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

// qbooksLoader upserts normalized records into the platform, keyed by the
// entity mapping. Re-delivered records whose fingerprint matches the last
// confirmed hash are no-ops, which is what makes page re-delivery after a
// crash safe.
type qbooksLoader struct{}

func (l *qbooksLoader) Load(ctx context.Context, profile *models.SyncProfile, rec AccountingRecord) (ImportResult, error) {
	ctx = utils.SetBusinessIdInContext(ctx, profile.BusinessId)

	mapping, err := models.FindMappingByExternalId(ctx, profile.BusinessId, profile.Provider, rec.EntityType(), rec.ExternalID())
	if err != nil {
		return ImportResult{}, err
	}
	if mapping != nil && mapping.LastConfirmedHash == rec.Fingerprint() {
		return ImportResult{Outcome: ImportUnchanged, InternalId: mapping.InternalId}, nil
	}

	switch r := rec.(type) {
	case *CustomerRecord:
		return l.loadCustomer(ctx, profile, r, mapping)
	case *InvoiceRecord:
		return l.loadInvoice(ctx, profile, r, mapping)
	case *PaymentRecord:
		return l.loadPayment(ctx, profile, r, mapping)
	default:
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalID(), Err: errors.New("unsupported record type")}
	}
}

func (l *qbooksLoader) confirm(ctx context.Context, profile *models.SyncProfile, rec AccountingRecord, mapping *models.EntityMapping, internalId string, source string) error {
	if mapping == nil {
		return models.CreateMapping(ctx, &models.EntityMapping{
			BusinessId:        profile.BusinessId,
			Provider:          profile.Provider,
			EntityType:        rec.EntityType(),
			ExternalId:        rec.ExternalID(),
			InternalId:        internalId,
			Source:            source,
			LastConfirmedHash: rec.Fingerprint(),
		})
	}
	return models.TouchMapping(ctx, mapping.ID, internalId, rec.Fingerprint())
}

func (l *qbooksLoader) loadCustomer(ctx context.Context, profile *models.SyncProfile, rec *CustomerRecord, mapping *models.EntityMapping) (ImportResult, error) {
	input := &models.NewCustomer{
		Name:     rec.Name,
		Email:    rec.Email,
		Phone:    rec.Phone,
		Currency: rec.Currency,
	}
	if mapping == nil {
		customer, err := models.CreateCustomer(ctx, input)
		if err != nil {
			return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
		}
		internalId := strconv.Itoa(customer.ID)
		if err := l.confirm(ctx, profile, rec, nil, internalId, models.MappingSourceExternal); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Outcome: ImportCreated, InternalId: internalId}, nil
	}

	id, err := strconv.Atoi(mapping.InternalId)
	if err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: fmt.Errorf("bad internal id %q", mapping.InternalId)}
	}
	if _, err := models.UpdateCustomer(ctx, id, input); err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
	}
	if err := l.confirm(ctx, profile, rec, mapping, mapping.InternalId, mapping.Source); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Outcome: ImportUpdated, InternalId: mapping.InternalId}, nil
}

// resolveInternalId finds the platform id for a referenced external record.
// A missing reference is a per-record validation failure; the record imports
// cleanly on a later run once the referenced entity has synced.
func resolveInternalId(ctx context.Context, profile *models.SyncProfile, entityType string, externalId string) (int, error) {
	mapping, err := models.FindMappingByExternalId(ctx, profile.BusinessId, profile.Provider, entityType, externalId)
	if err != nil {
		return 0, err
	}
	if mapping == nil {
		return 0, fmt.Errorf("%s %s has not been synced yet", entityType, externalId)
	}
	return strconv.Atoi(mapping.InternalId)
}

func mapInvoiceStatus(status string) models.InvoiceStatus {
	switch strings.ToLower(status) {
	case "open", "sent":
		return models.InvoiceStatusOpen
	case "paid":
		return models.InvoiceStatusPaid
	case "void", "voided":
		return models.InvoiceStatusVoid
	default:
		return models.InvoiceStatusDraft
	}
}

func (l *qbooksLoader) loadInvoice(ctx context.Context, profile *models.SyncProfile, rec *InvoiceRecord, mapping *models.EntityMapping) (ImportResult, error) {
	customerId, err := resolveInternalId(ctx, profile, models.EntityTypeCustomer, rec.CustomerExternalId)
	if err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
	}

	input := &models.NewInvoice{
		CustomerId:      customerId,
		InvoiceNumber:   rec.Number,
		ReferenceNumber: rec.Reference,
		InvoiceDate:     rec.Date,
		DueDate:         rec.DueDate,
		Currency:        rec.Currency,
		CurrentStatus:   mapInvoiceStatus(rec.Status),
	}
	for _, line := range rec.Lines {
		input.Details = append(input.Details, models.NewInvoiceDetail{
			Name:      line.Name,
			Qty:       line.Qty,
			UnitRate:  line.UnitRate,
			TaxAmount: line.TaxAmount,
		})
	}

	if mapping == nil {
		invoice, err := models.CreateInvoice(ctx, input)
		if err != nil {
			return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
		}
		internalId := strconv.Itoa(invoice.ID)
		if err := l.confirm(ctx, profile, rec, nil, internalId, models.MappingSourceExternal); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Outcome: ImportCreated, InternalId: internalId}, nil
	}

	id, err := strconv.Atoi(mapping.InternalId)
	if err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: fmt.Errorf("bad internal id %q", mapping.InternalId)}
	}
	if _, err := models.UpdateInvoice(ctx, id, input); err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
	}
	if err := l.confirm(ctx, profile, rec, mapping, mapping.InternalId, mapping.Source); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Outcome: ImportUpdated, InternalId: mapping.InternalId}, nil
}

func (l *qbooksLoader) loadPayment(ctx context.Context, profile *models.SyncProfile, rec *PaymentRecord, mapping *models.EntityMapping) (ImportResult, error) {
	input := &models.NewPayment{
		PaymentDate:   rec.Date,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Method:        rec.Method,
		CurrentStatus: models.PaymentStatusSucceeded,
	}
	if rec.CustomerExternalId != "" {
		customerId, err := resolveInternalId(ctx, profile, models.EntityTypeCustomer, rec.CustomerExternalId)
		if err != nil {
			return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
		}
		input.CustomerId = customerId
	}
	if rec.InvoiceExternalId != "" {
		invoiceId, err := resolveInternalId(ctx, profile, models.EntityTypeInvoice, rec.InvoiceExternalId)
		if err != nil {
			return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
		}
		input.InvoiceId = invoiceId
	}

	if mapping == nil {
		payment, err := models.CreatePayment(ctx, input)
		if err != nil {
			return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
		}
		internalId := strconv.Itoa(payment.ID)
		if err := l.confirm(ctx, profile, rec, nil, internalId, models.MappingSourceExternal); err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Outcome: ImportCreated, InternalId: internalId}, nil
	}

	id, err := strconv.Atoi(mapping.InternalId)
	if err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: fmt.Errorf("bad internal id %q", mapping.InternalId)}
	}
	if err := models.UpdatePayment(ctx, id, input); err != nil {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalId, Err: err}
	}
	if err := l.confirm(ctx, profile, rec, mapping, mapping.InternalId, mapping.Source); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Outcome: ImportUpdated, InternalId: mapping.InternalId}, nil
}
