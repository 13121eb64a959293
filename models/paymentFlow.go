package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

// PaymentFlow records a hosted checkout/tokenization session started with a
// gateway. Tokenization webhooks reference it by flow token.
type PaymentFlow struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	CustomerId int       `gorm:"index" json:"customer_id"`
	Gateway    string    `gorm:"size:30;not null" json:"gateway"`
	FlowToken  string    `gorm:"size:128;uniqueIndex" json:"flow_token"`
	Status     string    `gorm:"size:30" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindPaymentFlowByToken is tenant-unscoped by design; see
// FindPaymentByGatewayChargeId.
func FindPaymentFlowByToken(ctx context.Context, gateway string, token string) (*PaymentFlow, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var flow PaymentFlow
	err := config.GetDB().WithContext(ctx).
		Where("gateway = ? AND flow_token = ?", gateway, token).
		Take(&flow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flow, nil
}
