package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ComponentInput struct {
	JurisdictionID   snowflake.ID    `json:"jurisdiction_id" binding:"required"`
	JurisdictionCode string          `json:"jurisdiction_code,omitempty"`
	RuleCode         string          `json:"rule_code,omitempty"`
	ComponentRate    decimal.Decimal `json:"component_rate"`
	TaxableAmount    decimal.Decimal `json:"taxable_amount"`
	ComponentAmount  decimal.Decimal `json:"component_amount"`
	Exempt           bool            `json:"exempt,omitempty"`
}

type CreateDraftRequest struct {
	TransactionDate time.Time `json:"transaction_date" binding:"required"`
	ReferenceNumber string    `json:"reference_number,omitempty"`

	TaxType         string       `json:"tax_type" binding:"required"`
	TransactionType string       `json:"transaction_type,omitempty"`
	RuleID          snowflake.ID `json:"rule_id,omitempty"`
	RuleCode        string       `json:"rule_code,omitempty"`
	JurisdictionID  snowflake.ID `json:"jurisdiction_id,omitempty"`

	TaxableAmount decimal.Decimal `json:"taxable_amount" binding:"required"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Currency      string          `json:"currency,omitempty"`

	SourceDocumentType *string    `json:"source_document_type,omitempty"`
	SourceDocumentID   *uuid.UUID `json:"source_document_id,omitempty"`

	ExemptionCertificateID *snowflake.ID `json:"exemption_certificate_id,omitempty"`

	Notes      string           `json:"notes,omitempty"`
	Components []ComponentInput `json:"components"`
}

// UpdateDraftRequest patches a draft. Nil fields are left untouched.
type UpdateDraftRequest struct {
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
	ReferenceNumber *string    `json:"reference_number,omitempty"`

	TaxableAmount *decimal.Decimal `json:"taxable_amount,omitempty"`
	TaxAmount     *decimal.Decimal `json:"tax_amount,omitempty"`

	Notes      *string          `json:"notes,omitempty"`
	Components []ComponentInput `json:"components,omitempty"`
}

type ListRequest struct {
	Status    Status     `form:"status"`
	TaxType   string     `form:"tax_type"`
	StartDate *time.Time `form:"start_date"`
	EndDate   *time.Time `form:"end_date"`
	Limit     int        `form:"limit"`
	Offset    int        `form:"offset"`
}

// Ledger records posted calculations and enforces the transaction
// lifecycle.
type Ledger interface {
	CreateDraft(ctx context.Context, req CreateDraftRequest) (*Transaction, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, patch UpdateDraftRequest) (*Transaction, error)
	Post(ctx context.Context, id uuid.UUID) (*Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, req ListRequest) ([]Transaction, error)
	Void(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error)
}

type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, companyID snowflake.ID, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, companyID snowflake.ID, req ListRequest) ([]Transaction, error)
	Save(ctx context.Context, tx *gorm.DB, txn *Transaction) error
	ReplaceComponents(ctx context.Context, tx *gorm.DB, txn *Transaction) error

	// TransitionStatus flips from -> to on the row and reports whether the
	// guard matched; a false return means the row was not in `from`.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to Status) (bool, error)

	// NextDocumentNumber increments the (company, tax_type, year) counter
	// inside tx and returns the new value. The counter row stays
	// write-locked for the rest of tx, serializing concurrent posters.
	NextDocumentNumber(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, taxType string, year int) (int64, error)

	CountPostedByRule(ctx context.Context, ruleID snowflake.ID) (int64, error)
	CountPostedByCertificate(ctx context.Context, certificateID snowflake.ID) (int64, error)
}
