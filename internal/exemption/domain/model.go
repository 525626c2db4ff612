package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JurisdictionMatcher is a structural pattern over a calculation context.
// Empty fields are wildcards; a matcher with all fields empty matches every
// jurisdiction.
type JurisdictionMatcher struct {
	CountryCode string `json:"country_code,omitempty"`
	StateCode   string `json:"state_code,omitempty"`
	CityName    string `json:"city_name,omitempty"`
}

func (m JurisdictionMatcher) Matches(countryCode, stateCode, cityName string) bool {
	if m.CountryCode != "" && !strings.EqualFold(strings.TrimSpace(m.CountryCode), strings.TrimSpace(countryCode)) {
		return false
	}
	if m.StateCode != "" && !strings.EqualFold(strings.TrimSpace(m.StateCode), strings.TrimSpace(stateCode)) {
		return false
	}
	if m.CityName != "" && !strings.EqualFold(strings.TrimSpace(m.CityName), strings.TrimSpace(cityName)) {
		return false
	}
	return true
}

// TaxExemption is a general exemption definition owned by the registry side
// of the engine; it is not bound to a single customer.
type TaxExemption struct {
	ID snowflake.ID `gorm:"primaryKey" json:"id"`

	Code                string `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Description         string `gorm:"type:text" json:"description,omitempty"`
	CertificateRequired bool   `gorm:"column:certificate_required;not null;default:false" json:"certificate_required"`

	ValidFrom time.Time  `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidTo   *time.Time `gorm:"column:valid_to" json:"valid_to,omitempty"`

	TaxTypes      datatypes.JSONSlice[string]              `gorm:"column:tax_types" json:"tax_types,omitempty"`
	Jurisdictions datatypes.JSONSlice[JurisdictionMatcher] `gorm:"column:jurisdictions" json:"jurisdictions,omitempty"`
	Metadata      datatypes.JSONMap                        `gorm:"column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TaxExemption) TableName() string { return "tax_exemptions" }

// CoversTaxType reports whether the exemption applies to the tax type. An
// empty set covers all types.
func (e *TaxExemption) CoversTaxType(taxType string) bool {
	if len(e.TaxTypes) == 0 {
		return true
	}
	for _, t := range e.TaxTypes {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(taxType)) {
			return true
		}
	}
	return false
}

// Certificate is an exemption certificate issued to one customer.
type Certificate struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID snowflake.ID `gorm:"column:company_id;not null;index" json:"company_id"`

	CertificateNumber string `gorm:"column:certificate_number;type:text;not null;uniqueIndex" json:"certificate_number"`

	CustomerID    snowflake.ID `gorm:"column:customer_id;not null;index" json:"customer_id"`
	CustomerName  string       `gorm:"column:customer_name;type:text" json:"customer_name,omitempty"`
	CustomerTaxID string       `gorm:"column:customer_tax_id;type:text" json:"customer_tax_id,omitempty"`

	ExemptionType       string `gorm:"column:exemption_type;type:text;not null" json:"exemption_type"`
	IssuingJurisdiction string `gorm:"column:issuing_jurisdiction;type:text" json:"issuing_jurisdiction,omitempty"`

	IssueDate  time.Time  `gorm:"column:issue_date;not null" json:"issue_date"`
	ExpiryDate *time.Time `gorm:"column:expiry_date" json:"expiry_date,omitempty"`
	IsActive   bool       `gorm:"column:is_active;not null;default:true" json:"is_active"`

	// TaxCodes lists the rule codes the certificate covers; empty covers all.
	TaxCodes      datatypes.JSONSlice[string]              `gorm:"column:tax_codes" json:"tax_codes,omitempty"`
	Jurisdictions datatypes.JSONSlice[JurisdictionMatcher] `gorm:"column:jurisdictions" json:"jurisdictions,omitempty"`

	DocumentReference *string           `gorm:"column:document_reference;type:text" json:"document_reference,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Certificate) TableName() string { return "tax_exemption_certificates" }

// IsValidOn is the derived validity predicate: active, issued on or before
// the date, and not yet expired.
func (c *Certificate) IsValidOn(date time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.IssueDate.After(date) {
		return false
	}
	if c.ExpiryDate != nil && c.ExpiryDate.Before(date) {
		return false
	}
	return true
}

// CoversRuleCode reports whether the certificate covers the rule. An empty
// tax code list covers all rules.
func (c *Certificate) CoversRuleCode(ruleCode string) bool {
	if len(c.TaxCodes) == 0 {
		return true
	}
	for _, code := range c.TaxCodes {
		if strings.EqualFold(strings.TrimSpace(code), strings.TrimSpace(ruleCode)) {
			return true
		}
	}
	return false
}

// MatchesJurisdiction reports whether any matcher covers the context. An
// empty matcher list covers everything.
func (c *Certificate) MatchesJurisdiction(countryCode, stateCode, cityName string) bool {
	if len(c.Jurisdictions) == 0 {
		return true
	}
	for _, matcher := range c.Jurisdictions {
		if matcher.Matches(countryCode, stateCode, cityName) {
			return true
		}
	}
	return false
}

func (c *Certificate) Validate() error {
	if strings.TrimSpace(c.CertificateNumber) == "" {
		return ErrInvalidCertificateNumber
	}
	if c.CustomerID == 0 {
		return ErrInvalidCustomer
	}
	if strings.TrimSpace(c.ExemptionType) == "" {
		return ErrInvalidExemptionType
	}
	if c.ExpiryDate != nil && c.IssueDate.After(*c.ExpiryDate) {
		return ErrInvalidValidityWindow
	}
	return nil
}
