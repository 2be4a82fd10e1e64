package journals

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// LineRequest is one requested line in JSON form.
type LineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=255"`
	EntityType  string          `json:"entity_type" validate:"max=64"`
	EntityID    string          `json:"entity_id" validate:"max=64"`
}

// CreateRequest is the JSON body for creating an entry.
type CreateRequest struct {
	Description string         `json:"description" validate:"required,max=500"`
	Reference   string         `json:"reference" validate:"max=100"`
	EntryDate   string         `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Metadata    map[string]any `json:"metadata"`
	SourceType  string         `json:"source_type" validate:"max=64"`
	SourceID    string         `json:"source_id" validate:"max=64"`
	Post        bool           `json:"post"`
	Lines       []LineRequest  `json:"lines" validate:"required,min=1,dive"`
}

// UpdateRequest is the JSON body for editing a draft.
type UpdateRequest struct {
	Description *string        `json:"description" validate:"omitempty,max=500"`
	Reference   *string        `json:"reference" validate:"omitempty,max=100"`
	EntryDate   *string        `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	Metadata    map[string]any `json:"metadata"`
	Lines       []LineRequest  `json:"lines" validate:"omitempty,dive"`
}

// VoidRequest carries the mandatory void reason.
type VoidRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=500"`
}

func (r CreateRequest) toInput() (CreateInput, error) {
	date, err := time.Parse(dateLayout, r.EntryDate)
	if err != nil {
		return CreateInput{}, err
	}
	return CreateInput{
		Description: r.Description,
		Reference:   r.Reference,
		EntryDate:   date,
		Metadata:    r.Metadata,
		SourceType:  r.SourceType,
		SourceID:    r.SourceID,
		Lines:       toLineInputs(r.Lines),
	}, nil
}

func (r UpdateRequest) toInput() (UpdateInput, error) {
	in := UpdateInput{
		Description: r.Description,
		Reference:   r.Reference,
		Metadata:    r.Metadata,
	}
	if r.EntryDate != nil {
		date, err := time.Parse(dateLayout, *r.EntryDate)
		if err != nil {
			return UpdateInput{}, err
		}
		in.EntryDate = &date
	}
	if r.Lines != nil {
		in.Lines = toLineInputs(r.Lines)
	}
	return in, nil
}

func toLineInputs(lines []LineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput(l))
	}
	return out
}
