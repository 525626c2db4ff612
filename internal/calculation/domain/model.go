package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/shopspring/decimal"
)

// CalculateRequest is the input to a composite calculation. Amount is the
// taxable base before tax.
type CalculateRequest struct {
	Amount          decimal.Decimal            `json:"amount" binding:"required"`
	TaxType         string                     `json:"tax_type" binding:"required"`
	Address         jurisdictiondomain.Address `json:"address" binding:"required"`
	TransactionType string                     `json:"transaction_type,omitempty"`
	ForDate         time.Time                  `json:"for_date,omitempty"`

	CustomerID           snowflake.ID `json:"customer_id,omitempty"`
	ExemptionCertificate string       `json:"exemption_certificate,omitempty"`
}

// Component is one jurisdiction's contribution to the calculation. Amount is
// already rounded half-even to two places.
type Component struct {
	JurisdictionID   snowflake.ID    `json:"jurisdiction_id"`
	JurisdictionCode string          `json:"jurisdiction_code"`
	JurisdictionName string          `json:"jurisdiction_name,omitempty"`
	RuleCode         string          `json:"rule_code"`
	RuleName         string          `json:"rule_name,omitempty"`
	RateType         string          `json:"rate_type"`
	Rate             decimal.Decimal `json:"rate"`
	Amount           decimal.Decimal `json:"amount"`
	Exempt           bool            `json:"exempt,omitempty"`
}

// Calculation is the composite result. TaxAmount is the sum of the rounded
// component amounts, so sum(components) always equals the total.
type Calculation struct {
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`

	// RateUsed is the effective blended rate in percent.
	RateUsed decimal.Decimal `json:"rate_used"`

	TaxType         string    `json:"tax_type"`
	TransactionType string    `json:"transaction_type,omitempty"`
	ForDate         time.Time `json:"for_date"`

	IsExempt   bool                         `json:"is_exempt"`
	Exemption  *exemptiondomain.Certificate `json:"exemption,omitempty"`
	Components []Component                  `json:"components"`
}
