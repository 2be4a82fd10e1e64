package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ItemRequest is an invoice item in JSON form.
type ItemRequest struct {
	Description    string          `json:"description" validate:"required,max=255"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
}

// CreateRequest is the JSON body for a new draft invoice.
type CreateRequest struct {
	Number     string         `json:"number" validate:"required,max=64"`
	CustomerID int64          `json:"customer_id" validate:"required,gt=0"`
	Currency   string         `json:"currency" validate:"required,len=3"`
	IssueDate  string         `json:"issue_date" validate:"required,datetime=2006-01-02"`
	DueDate    string         `json:"due_date" validate:"required,datetime=2006-01-02"`
	Metadata   map[string]any `json:"metadata"`
	Items      []ItemRequest  `json:"items" validate:"dive"`
}

// TransitionRequest carries an optional reason; cancellation requires one.
type TransitionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// PaymentRequest allocates a payment.
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=100"`
}

func (r CreateRequest) toInput() (CreateInput, error) {
	issue, err := time.Parse(dateLayout, r.IssueDate)
	if err != nil {
		return CreateInput{}, err
	}
	due, err := time.Parse(dateLayout, r.DueDate)
	if err != nil {
		return CreateInput{}, err
	}
	items := make([]ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, ItemInput(it))
	}
	return CreateInput{
		Number:     r.Number,
		CustomerID: r.CustomerID,
		Currency:   r.Currency,
		IssueDate:  issue,
		DueDate:    due,
		Metadata:   r.Metadata,
		Items:      items,
	}, nil
}
