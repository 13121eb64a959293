package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/shopspring/decimal"
)

// LedgerTransaction is a posted general-ledger line. Ledger transactions sync
// to the general-ledger provider only, regardless of how many providers a
// tenant has connected (see the spool's entity exemption table).
type LedgerTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	AccountCode     string          `gorm:"size:30;not null" json:"account_code"`
	Direction       LedgerDirection `gorm:"type:enum('Debit','Credit');not null" json:"direction"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	ReferenceType   string          `gorm:"size:30" json:"reference_type"`
	ReferenceId     int             `json:"reference_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (l LedgerTransaction) SyncEntityType() string { return EntityTypeLedgerTransaction }
func (l LedgerTransaction) RecordID() int          { return l.ID }
func (l LedgerTransaction) TenantID() string       { return l.BusinessId }

func GetLedgerTransaction(ctx context.Context, id int) (LedgerTransaction, error) {
	var txn LedgerTransaction
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", id).
		Take(&txn).Error
	return txn, err
}
