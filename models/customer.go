package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Name         string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Email        string          `gorm:"size:100" json:"email"`
	Phone        string          `gorm:"size:20" json:"phone"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	CreditLimit  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit_limit"`
	Notes        string          `gorm:"type:text" json:"notes"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Customer) SyncEntityType() string { return EntityTypeCustomer }
func (c Customer) RecordID() int          { return c.ID }
func (c Customer) TenantID() string       { return c.BusinessId }

type NewCustomer struct {
	Name        string          `json:"name" binding:"required"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Currency    string          `json:"currency"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Notes       string          `json:"notes"`
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (Customer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return Customer{}, errors.New("business id is required")
	}

	currency := input.Currency
	if currency == "" {
		business, err := GetBusinessById(ctx, businessId)
		if err != nil {
			return Customer{}, err
		}
		currency = business.BaseCurrency
	}

	customer := Customer{
		BusinessId:  businessId,
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		Currency:    currency,
		CreditLimit: input.CreditLimit,
		Notes:       input.Notes,
		IsActive:    utils.NewTrue(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&customer).Error; err != nil {
		return Customer{}, err
	}
	return customer, nil
}

func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (Customer, error) {
	db := config.GetDB().WithContext(ctx)

	var customer Customer
	if err := db.Where("id = ?", id).Take(&customer).Error; err != nil {
		return Customer{}, err
	}

	updates := map[string]interface{}{
		"name":  input.Name,
		"email": input.Email,
		"phone": input.Phone,
		"notes": input.Notes,
	}
	if input.Currency != "" {
		updates["currency"] = input.Currency
	}
	if err := db.Model(&customer).Updates(updates).Error; err != nil {
		return Customer{}, err
	}
	return customer, nil
}

func GetCustomer(ctx context.Context, id int) (Customer, error) {
	var customer Customer
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", id).
		Take(&customer).Error
	return customer, err
}
