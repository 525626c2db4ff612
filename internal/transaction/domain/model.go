package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the transaction lifecycle state. The only legal transitions are
// draft -> posted and posted -> voided; voided is terminal.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
	StatusVoided Status = "voided"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPosted, StatusVoided:
		return true
	default:
		return false
	}
}

// sumTolerance is the allowed drift between header amounts and component
// sums.
var sumTolerance = decimal.New(1, -2)

// Component is one jurisdiction layer's share of a transaction.
type Component struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TransactionID uuid.UUID    `gorm:"column:transaction_id;type:text;not null;index" json:"transaction_id"`

	JurisdictionID   snowflake.ID `gorm:"column:jurisdiction_id;not null" json:"jurisdiction_id"`
	JurisdictionCode string       `gorm:"column:jurisdiction_code;type:text" json:"jurisdiction_code,omitempty"`
	RuleCode         string       `gorm:"column:rule_code;type:text" json:"rule_code,omitempty"`

	ComponentRate   decimal.Decimal `gorm:"column:component_rate;type:numeric(9,4);not null" json:"component_rate"`
	TaxableAmount   decimal.Decimal `gorm:"column:taxable_amount;type:numeric(20,2);not null" json:"taxable_amount"`
	ComponentAmount decimal.Decimal `gorm:"column:component_amount;type:numeric(20,2);not null" json:"component_amount"`
	Exempt          bool            `gorm:"column:exempt;not null;default:false" json:"exempt,omitempty"`
}

func (Component) TableName() string { return "tax_transaction_components" }

// Transaction is a recorded tax calculation. Once posted its financial
// columns are immutable; voiding flips the status field and nothing else.
type Transaction struct {
	ID uuid.UUID `gorm:"primaryKey;type:text" json:"id"`

	// DocumentNumber is assigned at posting time; drafts carry none.
	DocumentNumber  *string   `gorm:"column:document_number;type:text;uniqueIndex" json:"document_number,omitempty"`
	ReferenceNumber string    `gorm:"column:reference_number;type:text" json:"reference_number,omitempty"`
	TransactionDate time.Time `gorm:"column:transaction_date;not null;index" json:"transaction_date"`

	CompanyID snowflake.ID `gorm:"column:company_id;not null;index:idx_tax_transactions_scope" json:"company_id"`
	Status    Status       `gorm:"type:text;not null;index:idx_tax_transactions_scope" json:"status"`

	TaxType         string       `gorm:"column:tax_type;type:text;not null" json:"tax_type"`
	TransactionType string       `gorm:"column:transaction_type;type:text" json:"transaction_type,omitempty"`
	RuleID          snowflake.ID `gorm:"column:rule_id;index" json:"rule_id,omitempty"`
	RuleCode        string       `gorm:"column:rule_code;type:text" json:"rule_code,omitempty"`
	JurisdictionID  snowflake.ID `gorm:"column:jurisdiction_id" json:"jurisdiction_id,omitempty"`

	TaxableAmount decimal.Decimal `gorm:"column:taxable_amount;type:numeric(20,2);not null" json:"taxable_amount"`
	TaxAmount     decimal.Decimal `gorm:"column:tax_amount;type:numeric(20,2);not null" json:"tax_amount"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(20,2);not null" json:"total_amount"`
	Currency      string          `gorm:"type:text;not null;default:USD" json:"currency"`

	SourceDocumentType *string    `gorm:"column:source_document_type;type:text" json:"source_document_type,omitempty"`
	SourceDocumentID   *uuid.UUID `gorm:"column:source_document_id;type:text;index" json:"source_document_id,omitempty"`

	ExemptionCertificateID *snowflake.ID `gorm:"column:exemption_certificate_id;index" json:"exemption_certificate_id,omitempty"`

	Notes string `gorm:"type:text" json:"notes,omitempty"`

	Components []Component `gorm:"foreignKey:TransactionID" json:"components,omitempty"`

	PostedBy *string    `gorm:"column:posted_by;type:text" json:"posted_by,omitempty"`
	PostedAt *time.Time `gorm:"column:posted_at" json:"posted_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Transaction) TableName() string { return "tax_transactions" }

// ValidateInvariants checks the component sums against the header. Component
// sums may drift from the header by at most 0.01; the total must equal
// taxable plus tax exactly.
func (t *Transaction) ValidateInvariants() error {
	taxableSum := decimal.Zero
	taxSum := decimal.Zero
	for i := range t.Components {
		taxableSum = taxableSum.Add(t.Components[i].TaxableAmount)
		taxSum = taxSum.Add(t.Components[i].ComponentAmount)
	}
	if len(t.Components) > 0 {
		if taxableSum.Sub(t.TaxableAmount).Abs().GreaterThan(sumTolerance) {
			return ErrInvariantViolation
		}
		if taxSum.Sub(t.TaxAmount).Abs().GreaterThan(sumTolerance) {
			return ErrInvariantViolation
		}
	}
	if !t.TotalAmount.Equal(t.TaxableAmount.Add(t.TaxAmount)) {
		return ErrInvariantViolation
	}
	return nil
}

// HeaderValues snapshots the audit-relevant header fields.
func (t *Transaction) HeaderValues() map[string]any {
	values := map[string]any{
		"status":           string(t.Status),
		"tax_type":         t.TaxType,
		"transaction_date": t.TransactionDate,
		"taxable_amount":   t.TaxableAmount.String(),
		"tax_amount":       t.TaxAmount.String(),
		"total_amount":     t.TotalAmount.String(),
		"currency":         t.Currency,
	}
	if t.DocumentNumber != nil {
		values["document_number"] = *t.DocumentNumber
	}
	if t.ReferenceNumber != "" {
		values["reference_number"] = t.ReferenceNumber
	}
	return values
}

// DocumentCounter backs gap-free document numbering per company, tax type
// and year. NextNumber is the last number handed out.
type DocumentCounter struct {
	CompanyID  snowflake.ID `gorm:"column:company_id;primaryKey" json:"company_id"`
	TaxType    string       `gorm:"column:tax_type;type:text;primaryKey" json:"tax_type"`
	Year       int          `gorm:"primaryKey" json:"year"`
	NextNumber int64        `gorm:"column:next_number;not null" json:"next_number"`
}

func (DocumentCounter) TableName() string { return "tax_document_counters" }
