package mappings

import "time"

// Integration modules and keys resolved by the ledger hooks.
const (
	ModuleAR = "AR"

	KeyARReceivable = "ar.invoice.receivable"
	KeyARRevenue    = "ar.invoice.revenue"
	KeyARTax        = "ar.invoice.tax"
)

// AccountMapping links integration keys to ledger accounts of one company.
type AccountMapping struct {
	CompanyID int64
	Module    string
	Key       string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
