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

type Payment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId      int             `gorm:"index" json:"customer_id"`
	InvoiceId       int             `gorm:"index" json:"invoice_id"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	Method          string          `gorm:"size:30" json:"method"`
	MerchantAccount string          `gorm:"size:64" json:"merchant_account"`
	Gateway         string          `gorm:"size:30" json:"gateway"`
	GatewayChargeId string          `gorm:"size:128;index" json:"gateway_charge_id"`
	CurrentStatus   PaymentStatus   `gorm:"type:enum('Pending','Succeeded','Failed','Refunded');not null;default:'Pending'" json:"current_status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p Payment) SyncEntityType() string { return EntityTypePayment }
func (p Payment) RecordID() int          { return p.ID }
func (p Payment) TenantID() string       { return p.BusinessId }

type NewPayment struct {
	CustomerId      int             `json:"customer_id"`
	InvoiceId       int             `json:"invoice_id"`
	PaymentDate     time.Time       `json:"payment_date" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	Currency        string          `json:"currency"`
	Method          string          `json:"method"`
	MerchantAccount string          `json:"merchant_account"`
	Gateway         string          `json:"gateway"`
	GatewayChargeId string          `json:"gateway_charge_id"`
	CurrentStatus   PaymentStatus   `json:"current_status"`
}

func CreatePayment(ctx context.Context, input *NewPayment) (Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return Payment{}, errors.New("business id is required")
	}

	currency := input.Currency
	if currency == "" {
		business, err := GetBusinessById(ctx, businessId)
		if err != nil {
			return Payment{}, err
		}
		currency = business.BaseCurrency
	}

	status := input.CurrentStatus
	if status == "" {
		status = PaymentStatusSucceeded
	}

	payment := Payment{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		InvoiceId:       input.InvoiceId,
		PaymentDate:     input.PaymentDate,
		Amount:          input.Amount,
		Currency:        currency,
		Method:          input.Method,
		MerchantAccount: input.MerchantAccount,
		Gateway:         input.Gateway,
		GatewayChargeId: input.GatewayChargeId,
		CurrentStatus:   status,
	}
	if err := config.GetDB().WithContext(ctx).Create(&payment).Error; err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func UpdatePayment(ctx context.Context, id int, input *NewPayment) error {
	db := config.GetDB().WithContext(ctx)

	var payment Payment
	if err := db.Where("id = ?", id).Take(&payment).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"payment_date": input.PaymentDate,
		"amount":       input.Amount,
		"method":       input.Method,
	}
	if input.CustomerId != 0 {
		updates["customer_id"] = input.CustomerId
	}
	if input.InvoiceId != 0 {
		updates["invoice_id"] = input.InvoiceId
	}
	if input.Currency != "" {
		updates["currency"] = input.Currency
	}
	if input.CurrentStatus != "" {
		updates["current_status"] = input.CurrentStatus
	}
	return db.Model(&payment).Updates(updates).Error
}

func UpdatePaymentStatus(ctx context.Context, id int, status PaymentStatus) error {
	return config.GetDB().WithContext(ctx).
		Model(&Payment{}).
		Where("id = ?", id).
		Update("current_status", status).Error
}

func GetPayment(ctx context.Context, id int) (Payment, error) {
	var payment Payment
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", id).
		Take(&payment).Error
	return payment, err
}

// FindPaymentByGatewayChargeId looks up a payment by its gateway charge id
// WITHOUT tenant scoping. Webhook events carry no tenant context, so this is
// the entry point for resolving the owning business; callers must re-scope
// everything that follows to the tenant found.
func FindPaymentByGatewayChargeId(ctx context.Context, gateway string, chargeId string) (*Payment, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var payment Payment
	err := config.GetDB().WithContext(ctx).
		Where("gateway = ? AND gateway_charge_id = ?", gateway, chargeId).
		Take(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}
