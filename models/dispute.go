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

type Dispute struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null" json:"business_id"`
	PaymentId        int             `gorm:"index" json:"payment_id"`
	Gateway          string          `gorm:"size:30;not null" json:"gateway"`
	GatewayDisputeId string          `gorm:"size:128;index" json:"gateway_dispute_id"`
	GatewayChargeId  string          `gorm:"size:128" json:"gateway_charge_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Reason           string          `gorm:"size:100" json:"reason"`
	Status           string          `gorm:"size:30" json:"status"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindDisputeByGatewayDisputeId is tenant-unscoped by design; see
// FindPaymentByGatewayChargeId.
func FindDisputeByGatewayDisputeId(ctx context.Context, gateway string, disputeId string) (*Dispute, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var dispute Dispute
	err := config.GetDB().WithContext(ctx).
		Where("gateway = ? AND gateway_dispute_id = ?", gateway, disputeId).
		Take(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}
