package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ValidationContext carries the calculation facts a certificate is checked
// against.
type ValidationContext struct {
	TaxType         string
	RuleCode        string
	CountryCode     string
	StateCode       string
	CityName        string
	CustomerID      snowflake.ID
	TransactionDate time.Time
}

// Decision is the validator's verdict. Reason is set only on rejection.
type Decision struct {
	Valid       bool         `json:"valid"`
	Reason      Reason       `json:"reason,omitempty"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

type ListRequest struct {
	CustomerID    snowflake.ID
	ExemptionType string
	IsActive      *bool
	SortBy        string
	OrderBy       string
}

type CreateCertificateRequest struct {
	CertificateNumber   string                `json:"certificate_number" binding:"required"`
	CustomerID          string                `json:"customer_id" binding:"required"`
	CustomerName        string                `json:"customer_name,omitempty"`
	CustomerTaxID       string                `json:"customer_tax_id,omitempty"`
	ExemptionType       string                `json:"exemption_type" binding:"required"`
	IssuingJurisdiction string                `json:"issuing_jurisdiction,omitempty"`
	IssueDate           time.Time             `json:"issue_date" binding:"required"`
	ExpiryDate          *time.Time            `json:"expiry_date,omitempty"`
	TaxCodes            []string              `json:"tax_codes,omitempty"`
	Jurisdictions       []JurisdictionMatcher `json:"jurisdictions,omitempty"`
	DocumentReference   *string               `json:"document_reference,omitempty"`
	Metadata            datatypes.JSONMap     `json:"metadata,omitempty"`
}

type UpdateCertificateRequest struct {
	CertificateNumber string `json:"certificate_number"`

	ExpiryDate        *time.Time             `json:"expiry_date,omitempty"`
	IsActive          *bool                  `json:"is_active,omitempty"`
	TaxCodes          []string               `json:"tax_codes,omitempty"`
	Jurisdictions     *[]JurisdictionMatcher `json:"jurisdictions,omitempty"`
	DocumentReference *string                `json:"document_reference,omitempty"`
	Metadata          datatypes.JSONMap      `json:"metadata,omitempty"`
}

type Service interface {
	CreateCertificate(ctx context.Context, req CreateCertificateRequest) (*Certificate, error)
	GetCertificate(ctx context.Context, certificateNumber string) (*Certificate, error)
	ListCertificates(ctx context.Context, req ListRequest) ([]Certificate, error)
	UpdateCertificate(ctx context.Context, req UpdateCertificateRequest) (*Certificate, error)
	DeactivateCertificate(ctx context.Context, certificateNumber string) (*Certificate, error)
	DeleteCertificate(ctx context.Context, certificateNumber string) error
}

// Validator decides whether an exemption claim holds for a calculation
// context. ValidateCertificate is pure; Validate loads by number first.
type Validator interface {
	Validate(ctx context.Context, certificateNumber string, vctx ValidationContext) (Decision, error)
	ValidateCertificate(cert *Certificate, vctx ValidationContext) Decision
}

// Mutating methods accept the caller's transaction so the certificate write
// and its audit entry commit together; a nil tx uses the repository's own
// connection.
type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, cert *Certificate) error
	FindByNumber(ctx context.Context, companyID snowflake.ID, certificateNumber string) (*Certificate, error)
	List(ctx context.Context, companyID snowflake.ID, filter ListRequest) ([]Certificate, error)
	Update(ctx context.Context, tx *gorm.DB, cert *Certificate) error
	Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}

// LedgerChecker reports whether a posted transaction references the
// certificate; implemented by the transaction package.
type LedgerChecker interface {
	CertificateHasPostedTransactions(ctx context.Context, certificateID snowflake.ID) (bool, error)
}
