package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/shopspring/decimal"
)

const defaultPageSize = 100

func init() {
	RegisterAdapter(models.ProviderQBooks, func() Adapter { return &qbooksAdapter{} })
}

// qbooksAdapter shares one authenticated client across the four roles.
type qbooksAdapter struct {
	client *qbooksClient

	extractor   qbooksExtractor
	transformer qbooksTransformer
	loader      qbooksLoader
	writer      qbooksWriter
}

func (a *qbooksAdapter) Provider() string         { return models.ProviderQBooks }
func (a *qbooksAdapter) Extractor() Extractor     { a.extractor.adapter = a; return &a.extractor }
func (a *qbooksAdapter) Transformer() Transformer { return &a.transformer }
func (a *qbooksAdapter) Loader() Loader           { return &a.loader }
func (a *qbooksAdapter) Writer() Writer           { a.writer.adapter = a; return &a.writer }

func (a *qbooksAdapter) connect(profile *models.SyncProfile) error {
	if a.client != nil {
		return nil
	}
	client, err := newQbooksClient(profile.ExternalAccountId, resolveAuthSecret(profile.AuthSecretRef))
	if err != nil {
		return &SyncError{Op: "connect", Err: err}
	}
	a.client = client
	return nil
}

// resolveAuthSecret dereferences "env:NAME" secret refs; a plain value is
// used as-is (tests, local dev).
func resolveAuthSecret(ref string) string {
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		return os.Getenv(name)
	}
	return ref
}

var qbooksEntityPaths = map[string]string{
	models.EntityTypeCustomer: "/v1/customers",
	models.EntityTypeInvoice:  "/v1/invoices",
	models.EntityTypePayment:  "/v1/payments",
}

// qbooksObject is one raw object off the wire, typed only by entity type.
type qbooksObject struct {
	entityType string
	externalId string
	raw        json.RawMessage
}

func (o *qbooksObject) EntityType() string { return o.entityType }
func (o *qbooksObject) ExternalID() string { return o.externalId }

type qbooksExtractor struct {
	adapter *qbooksAdapter
}

func (e *qbooksExtractor) Initialize(ctx context.Context, profile *models.SyncProfile) error {
	return e.adapter.connect(profile)
}

func (e *qbooksExtractor) GetObjects(ctx context.Context, entityType string, query ReadQuery) (PageStream, error) {
	path, ok := qbooksEntityPaths[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &qbooksPageStream{
		client:     e.adapter.client,
		path:       path,
		entityType: entityType,
		query:      query,
		pageSize:   pageSize,
		cursor:     query.Cursor,
	}, nil
}

func (e *qbooksExtractor) GetObject(ctx context.Context, entityType string, externalId string) (ExternalRecord, error) {
	path, ok := qbooksEntityPaths[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	raw, err := e.adapter.client.getObject(ctx, path+"/"+url.PathEscape(externalId))
	if err != nil {
		return nil, &ExtractError{Op: "getObject " + entityType, Err: err}
	}
	return &qbooksObject{entityType: entityType, externalId: externalId, raw: raw}, nil
}

type qbooksPageStream struct {
	client     *qbooksClient
	path       string
	entityType string
	query      ReadQuery
	pageSize   int
	cursor     string
	done       bool
}

func (s *qbooksPageStream) Next(ctx context.Context) (*Page, error) {
	if s.done {
		return nil, nil
	}
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", s.pageSize))
	if s.query.UpdatedSince != "" {
		params.Set("updated_since", s.query.UpdatedSince)
	}
	if s.cursor != "" {
		params.Set("cursor", s.cursor)
	}
	resp, err := s.client.getList(ctx, s.path, params)
	if err != nil {
		return nil, &ExtractError{Op: "list " + s.entityType, Err: err}
	}

	page := &Page{NextCursor: resp.NextCursor}
	for _, raw := range resp.records() {
		var header struct {
			Id string `json:"id"`
		}
		_ = json.Unmarshal(raw, &header)
		page.Records = append(page.Records, &qbooksObject{
			entityType: s.entityType,
			externalId: header.Id,
			raw:        raw,
		})
	}
	if resp.HasMore != nil {
		page.HasMore = *resp.HasMore
	} else {
		page.HasMore = resp.NextCursor != "" && len(page.Records) > 0
	}
	s.cursor = resp.NextCursor
	s.done = !page.HasMore
	return page, nil
}

// Normalized records. Fingerprint is a sha256 of the canonical JSON form:
// equal fingerprints mean re-loading the record would change nothing.

func fingerprintOf(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type CustomerRecord struct {
	ExternalId string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Currency   string `json:"currency"`
}

func (r *CustomerRecord) EntityType() string  { return models.EntityTypeCustomer }
func (r *CustomerRecord) ExternalID() string  { return r.ExternalId }
func (r *CustomerRecord) Fingerprint() string { return fingerprintOf(r) }

type InvoiceLine struct {
	Name      string          `json:"name"`
	Qty       decimal.Decimal `json:"qty"`
	UnitRate  decimal.Decimal `json:"unit_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type InvoiceRecord struct {
	ExternalId         string        `json:"external_id"`
	CustomerExternalId string        `json:"customer_external_id"`
	Number             string        `json:"number"`
	Reference          string        `json:"reference"`
	Date               time.Time     `json:"date"`
	DueDate            *time.Time    `json:"due_date"`
	Currency           string        `json:"currency"`
	Status             string        `json:"status"`
	Lines              []InvoiceLine `json:"lines"`
}

func (r *InvoiceRecord) EntityType() string  { return models.EntityTypeInvoice }
func (r *InvoiceRecord) ExternalID() string  { return r.ExternalId }
func (r *InvoiceRecord) Fingerprint() string { return fingerprintOf(r) }

type PaymentRecord struct {
	ExternalId         string          `json:"external_id"`
	CustomerExternalId string          `json:"customer_external_id"`
	InvoiceExternalId  string          `json:"invoice_external_id"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Method             string          `json:"method"`
}

func (r *PaymentRecord) EntityType() string  { return models.EntityTypePayment }
func (r *PaymentRecord) ExternalID() string  { return r.ExternalId }
func (r *PaymentRecord) Fingerprint() string { return fingerprintOf(r) }

// Raw wire shapes.

type qbooksCustomerPayload struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type qbooksInvoiceLinePayload struct {
	Description string `json:"description"`
	Qty         string `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	TaxAmount   string `json:"tax_amount"`
}

type qbooksInvoicePayload struct {
	Id         string                     `json:"id"`
	CustomerId string                     `json:"customer_id"`
	Number     string                     `json:"number"`
	Reference  string                     `json:"reference"`
	TxnDate    string                     `json:"txn_date"`
	DueDate    string                     `json:"due_date"`
	Currency   string                     `json:"currency"`
	Status     string                     `json:"status"`
	Lines      []qbooksInvoiceLinePayload `json:"lines"`
}

type qbooksPaymentPayload struct {
	Id               string `json:"id"`
	CustomerId       string `json:"customer_id"`
	InvoiceId        string `json:"invoice_id"`
	TxnDate          string `json:"txn_date"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	DepositAccount   string `json:"deposit_account,omitempty"`
	UndepositedFunds bool   `json:"undeposited_funds,omitempty"`
}

func parseQbooksDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

type qbooksTransformer struct{}

func (t *qbooksTransformer) Initialize(ctx context.Context, profile *models.SyncProfile) error {
	return nil
}

// Transform normalizes one raw object. A (nil, nil) return is an intentional
// skip: inactive customers and estimate invoices are not billing data.
func (t *qbooksTransformer) Transform(ctx context.Context, rec ExternalRecord) (AccountingRecord, error) {
	obj, ok := rec.(*qbooksObject)
	if !ok {
		return nil, &TransformError{EntityType: rec.EntityType(), ExternalId: rec.ExternalID(), Err: errors.New("unexpected record type")}
	}
	switch obj.entityType {
	case models.EntityTypeCustomer:
		return t.transformCustomer(obj)
	case models.EntityTypeInvoice:
		return t.transformInvoice(obj)
	case models.EntityTypePayment:
		return t.transformPayment(obj)
	default:
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("unsupported entity type")}
	}
}

func (t *qbooksTransformer) transformCustomer(obj *qbooksObject) (AccountingRecord, error) {
	var raw qbooksCustomerPayload
	if err := json.Unmarshal(obj.raw, &raw); err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: err}
	}
	if raw.Id == "" {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("missing id")}
	}
	if strings.EqualFold(raw.Status, "inactive") {
		return nil, nil
	}
	if raw.DisplayName == "" {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("missing display_name")}
	}
	return &CustomerRecord{
		ExternalId: raw.Id,
		Name:       raw.DisplayName,
		Email:      raw.Email,
		Phone:      raw.Phone,
		Currency:   strings.ToUpper(raw.Currency),
	}, nil
}

func (t *qbooksTransformer) transformInvoice(obj *qbooksObject) (AccountingRecord, error) {
	var raw qbooksInvoicePayload
	if err := json.Unmarshal(obj.raw, &raw); err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: err}
	}
	if raw.Id == "" {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("missing id")}
	}
	if strings.EqualFold(raw.Status, "estimate") {
		return nil, nil
	}
	if raw.CustomerId == "" {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("missing customer_id")}
	}
	date, err := parseQbooksDate(raw.TxnDate)
	if err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("txn_date: %w", err)}
	}
	out := &InvoiceRecord{
		ExternalId:         raw.Id,
		CustomerExternalId: raw.CustomerId,
		Number:             raw.Number,
		Reference:          raw.Reference,
		Date:               date,
		Currency:           strings.ToUpper(raw.Currency),
		Status:             raw.Status,
	}
	if raw.DueDate != "" {
		due, err := parseQbooksDate(raw.DueDate)
		if err != nil {
			return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("due_date: %w", err)}
		}
		out.DueDate = &due
	}
	for _, line := range raw.Lines {
		qty, err := decimal.NewFromString(defaultIfEmpty(line.Qty, "1"))
		if err != nil {
			return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("line qty: %w", err)}
		}
		unitRate, err := decimal.NewFromString(defaultIfEmpty(line.UnitPrice, "0"))
		if err != nil {
			return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("line unit_price: %w", err)}
		}
		tax, err := decimal.NewFromString(defaultIfEmpty(line.TaxAmount, "0"))
		if err != nil {
			return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("line tax_amount: %w", err)}
		}
		out.Lines = append(out.Lines, InvoiceLine{
			Name:      line.Description,
			Qty:       qty,
			UnitRate:  unitRate,
			TaxAmount: tax,
		})
	}
	if len(out.Lines) == 0 {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("invoice has no lines")}
	}
	return out, nil
}

func (t *qbooksTransformer) transformPayment(obj *qbooksObject) (AccountingRecord, error) {
	var raw qbooksPaymentPayload
	if err := json.Unmarshal(obj.raw, &raw); err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: err}
	}
	if raw.Id == "" {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: errors.New("missing id")}
	}
	date, err := parseQbooksDate(raw.TxnDate)
	if err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("txn_date: %w", err)}
	}
	amount, err := decimal.NewFromString(defaultIfEmpty(raw.Amount, "0"))
	if err != nil {
		return nil, &TransformError{EntityType: obj.entityType, ExternalId: obj.externalId, Err: fmt.Errorf("amount: %w", err)}
	}
	return &PaymentRecord{
		ExternalId:         raw.Id,
		CustomerExternalId: raw.CustomerId,
		InvoiceExternalId:  raw.InvoiceId,
		Date:               date,
		Amount:             amount,
		Currency:           strings.ToUpper(raw.Currency),
		Method:             raw.Method,
	}, nil
}

func defaultIfEmpty(v string, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
