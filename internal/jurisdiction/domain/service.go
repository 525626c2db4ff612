package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Resolver maps a structured address to the ordered set of jurisdictions
// whose rules apply: federal, then state, county, city when present, then all
// active special districts for the state. The resolver never synthesizes
// jurisdictions; missing nodes are simply omitted.
type Resolver interface {
	Resolve(ctx context.Context, addr Address) ([]Jurisdiction, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Jurisdiction, error)
	Get(ctx context.Context, code string) (*Jurisdiction, error)
	List(ctx context.Context, req ListRequest) ([]Jurisdiction, error)
	Update(ctx context.Context, req UpdateRequest) (*Jurisdiction, error)
	Deactivate(ctx context.Context, code string) (*Jurisdiction, error)
}

type CreateRequest struct {
	Code        string `json:"code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Level       Level  `json:"level" binding:"required"`
	ParentCode  string `json:"parent_code,omitempty"`
	CountryCode string `json:"country_code" binding:"required"`
	StateCode   string `json:"state_code,omitempty"`
	CountyName  string `json:"county_name,omitempty"`
	CityName    string `json:"city_name,omitempty"`

	RegistrationRequired     bool                `json:"registration_required"`
	MinimumTransactionAmount decimal.NullDecimal `json:"minimum_transaction_amount,omitempty"`
	RequiredFilingFrequency  *string             `json:"required_filing_frequency,omitempty"`
}

type UpdateRequest struct {
	Code string `json:"code"`

	Name                     *string              `json:"name,omitempty"`
	RegistrationRequired     *bool                `json:"registration_required,omitempty"`
	MinimumTransactionAmount *decimal.NullDecimal `json:"minimum_transaction_amount,omitempty"`
	RequiredFilingFrequency  *string              `json:"required_filing_frequency,omitempty"`
	IsActive                 *bool                `json:"is_active,omitempty"`
}
