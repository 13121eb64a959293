package models

import "github.com/mmdatafocus/billing_backend/config"

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Business{},
		&Customer{},
		&Invoice{},
		&InvoiceDetail{},
		&Payment{},
		&LedgerTransaction{},
		&Dispute{},
		&PaymentFlow{},
		&SyncProfile{},
		&SyncRun{},
		&SyncRunError{},
		&EntityMapping{},
		&WriteJob{},
		&IdempotencyKey{},
	)
	if err != nil {
		panic(err)
	}
}
