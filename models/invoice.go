package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id" binding:"required"`
	InvoiceNumber   string          `gorm:"size:50;not null" json:"invoice_number"`
	ReferenceNumber string          `gorm:"size:50" json:"reference_number"`
	InvoiceDate     time.Time       `gorm:"not null" json:"invoice_date"`
	DueDate         *time.Time      `json:"due_date"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	Total           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	CurrentStatus   InvoiceStatus   `gorm:"type:enum('Draft','Open','Paid','Void');not null;default:'Draft'" json:"current_status"`
	Notes           string          `gorm:"type:text" json:"notes"`
	Details         []InvoiceDetail `json:"details"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceDetail struct {
	ID         int             `gorm:"primary_key" json:"id"`
	InvoiceId  int             `gorm:"index;not null" json:"invoice_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"qty"`
	UnitRate   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_rate"`
	TaxAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	LineAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_amount"`
}

func (i Invoice) SyncEntityType() string { return EntityTypeInvoice }
func (i Invoice) RecordID() int          { return i.ID }
func (i Invoice) TenantID() string       { return i.BusinessId }

type NewInvoice struct {
	CustomerId      int                `json:"customer_id" binding:"required"`
	InvoiceNumber   string             `json:"invoice_number"`
	ReferenceNumber string             `json:"reference_number"`
	InvoiceDate     time.Time          `json:"invoice_date" binding:"required"`
	DueDate         *time.Time         `json:"due_date"`
	Currency        string             `json:"currency"`
	CurrentStatus   InvoiceStatus      `json:"current_status"`
	Notes           string             `json:"notes"`
	Details         []NewInvoiceDetail `json:"details" binding:"required,dive"`
}

type NewInvoiceDetail struct {
	Name      string          `json:"name" binding:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitRate  decimal.Decimal `json:"unit_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return Invoice{}, errors.New("business id is required")
	}
	if len(input.Details) == 0 {
		return Invoice{}, errors.New("invoice requires at least one line")
	}

	currency := input.Currency
	if currency == "" {
		business, err := GetBusinessById(ctx, businessId)
		if err != nil {
			return Invoice{}, err
		}
		currency = business.BaseCurrency
	}

	status := input.CurrentStatus
	if status == "" {
		status = InvoiceStatusDraft
	}

	invoice := Invoice{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		InvoiceNumber:   input.InvoiceNumber,
		ReferenceNumber: input.ReferenceNumber,
		InvoiceDate:     input.InvoiceDate,
		DueDate:         input.DueDate,
		Currency:        currency,
		CurrentStatus:   status,
		Notes:           input.Notes,
	}

	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, d := range input.Details {
		qty := d.Qty
		if qty.LessThanOrEqual(decimal.Zero) {
			qty = decimal.NewFromInt(1)
		}
		line := qty.Mul(d.UnitRate)
		subtotal = subtotal.Add(line)
		taxTotal = taxTotal.Add(d.TaxAmount)
		invoice.Details = append(invoice.Details, InvoiceDetail{
			Name:       d.Name,
			Qty:        qty,
			UnitRate:   d.UnitRate,
			TaxAmount:  d.TaxAmount,
			LineAmount: line,
		})
	}
	invoice.Subtotal = subtotal
	invoice.TaxAmount = taxTotal
	invoice.Total = subtotal.Add(taxTotal)

	if err := config.GetDB().WithContext(ctx).Create(&invoice).Error; err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

func UpdateInvoice(ctx context.Context, id int, input *NewInvoice) (Invoice, error) {
	db := config.GetDB().WithContext(ctx)

	var invoice Invoice
	if err := db.Where("id = ?", id).Take(&invoice).Error; err != nil {
		return Invoice{}, err
	}
	if invoice.CurrentStatus == InvoiceStatusVoid {
		return Invoice{}, errors.New("cannot update a void invoice")
	}

	updates := map[string]interface{}{
		"invoice_number":   input.InvoiceNumber,
		"reference_number": input.ReferenceNumber,
		"invoice_date":     input.InvoiceDate,
		"due_date":         input.DueDate,
		"notes":            input.Notes,
	}
	if input.CurrentStatus != "" {
		updates["current_status"] = input.CurrentStatus
	}
	if err := db.Model(&invoice).Updates(updates).Error; err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

func GetInvoice(ctx context.Context, id int) (Invoice, error) {
	var invoice Invoice
	err := config.GetDB().WithContext(ctx).
		Preload("Details").
		Where("id = ?", id).
		Take(&invoice).Error
	return invoice, err
}

func GetInvoiceByReference(ctx context.Context, businessId string, reference string) (*Invoice, error) {
	var invoice Invoice
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND reference_number = ?", businessId, reference).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}
