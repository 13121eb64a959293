package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"gorm.io/gorm"
)

type Business struct {
	ID                    string    `gorm:"primary_key;size:64" json:"id"`
	Name                  string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email                 string    `gorm:"size:100" json:"email"`
	BaseCurrency          string    `gorm:"size:3;not null;default:'USD'" json:"base_currency"`
	AccountingSyncEnabled *bool     `gorm:"not null;default:false" json:"accounting_sync_enabled"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) (err error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func GetBusinessById(ctx context.Context, businessId string) (Business, error) {
	var business Business
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", businessId).
		Take(&business).Error
	return business, err
}

// BusinessSyncCapable reports whether the tenant has the accounting-sync
// capability flag. The spool checks this before buffering anything.
func BusinessSyncCapable(ctx context.Context, businessId string) (bool, error) {
	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return false, err
	}
	return business.AccountingSyncEnabled != nil && *business.AccountingSyncEnabled, nil
}
