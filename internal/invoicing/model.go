package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPosted    Status = "posted"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// AllocationStatus marks whether a payment still counts towards the invoice.
type AllocationStatus string

const (
	AllocationActive AllocationStatus = "active"
	AllocationVoid   AllocationStatus = "void"
)

// Invoice is a customer invoice with items and payment allocations.
type Invoice struct {
	ID                 int64           `json:"id"`
	CompanyID          int64           `json:"company_id"`
	Number             string          `json:"number"`
	CustomerID         int64           `json:"customer_id"`
	Status             Status          `json:"status"`
	Currency           string          `json:"currency"`
	IssueDate          time.Time       `json:"issue_date"`
	DueDate            time.Time       `json:"due_date"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountTotal      decimal.Decimal `json:"discount_total"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	Total              decimal.Decimal `json:"total"`
	PaidTotal          decimal.Decimal `json:"paid_total"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	SentAt             *time.Time      `json:"sent_at,omitempty"`
	PostedAt           *time.Time      `json:"posted_at,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	CreatedBy          int64           `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Items              []Item          `json:"items"`
	Allocations        []Allocation    `json:"allocations"`
}

// Item is an invoice line. Tax is supplied by the caller.
type Item struct {
	ID             int64           `json:"id"`
	InvoiceID      int64           `json:"invoice_id"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
}

// Gross is quantity times unit price.
func (i Item) Gross() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice).Round(2)
}

// Allocation is a payment applied to an invoice.
type Allocation struct {
	ID          int64            `json:"id"`
	InvoiceID   int64            `json:"invoice_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      AllocationStatus `json:"status"`
	Reference   string           `json:"reference,omitempty"`
	AllocatedAt time.Time        `json:"allocated_at"`
	VoidedAt    *time.Time       `json:"voided_at,omitempty"`
}

// RecalculateTotals derives every total from items and active allocations.
func (inv *Invoice) RecalculateTotals() {
	subtotal, discount, tax, paid := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range inv.Items {
		subtotal = subtotal.Add(it.Gross())
		discount = discount.Add(it.DiscountAmount)
		tax = tax.Add(it.TaxAmount)
	}
	for _, a := range inv.Allocations {
		if a.Status == AllocationActive {
			paid = paid.Add(a.Amount)
		}
	}
	inv.Subtotal = subtotal
	inv.DiscountTotal = discount
	inv.TaxTotal = tax
	inv.Total = subtotal.Sub(discount).Add(tax)
	inv.PaidTotal = paid
	due := inv.Total.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	inv.BalanceDue = due
}

// HasActiveAllocations reports whether any payment still counts.
func (inv Invoice) HasActiveAllocations() bool {
	for _, a := range inv.Allocations {
		if a.Status == AllocationActive {
			return true
		}
	}
	return false
}

// NetRevenue is subtotal less discounts.
func (inv Invoice) NetRevenue() decimal.Decimal {
	return inv.Subtotal.Sub(inv.DiscountTotal)
}

// ItemInput captures a new invoice item.
type ItemInput struct {
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
}

// CreateInput captures a new draft invoice.
type CreateInput struct {
	Number     string
	CustomerID int64
	Currency   string
	IssueDate  time.Time
	DueDate    time.Time
	Metadata   map[string]any
	Items      []ItemInput
}
