package models

// Accounting providers (external systems).
const (
	ProviderQBooks = "qbooks"
)

// Payment gateways (webhook sources).
const (
	GatewayStripe    = "stripe"
	GatewayBraintree = "braintree"
)

// Sync event names carried on spool entries and write jobs.
const (
	SyncEventCreated = "created"
	SyncEventUpdated = "updated"
	SyncEventDeleted = "deleted"
)

// Entity types used by mappings, spool keys and write jobs.
const (
	EntityTypeCustomer          = "customer"
	EntityTypeInvoice           = "invoice"
	EntityTypePayment           = "payment"
	EntityTypeLedgerTransaction = "ledger_transaction"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "Draft"
	InvoiceStatusOpen  InvoiceStatus = "Open"
	InvoiceStatusPaid  InvoiceStatus = "Paid"
	InvoiceStatusVoid  InvoiceStatus = "Void"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusSucceeded PaymentStatus = "Succeeded"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusRefunded  PaymentStatus = "Refunded"
)

type LedgerDirection string

const (
	LedgerDirectionDebit  LedgerDirection = "Debit"
	LedgerDirectionCredit LedgerDirection = "Credit"
)
