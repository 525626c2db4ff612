package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TaxType classifies what a rule taxes.
type TaxType string

const (
	TaxTypeSales       TaxType = "sales"
	TaxTypeIncome      TaxType = "income"
	TaxTypeVAT         TaxType = "vat"
	TaxTypeGST         TaxType = "gst"
	TaxTypePayroll     TaxType = "payroll"
	TaxTypeProperty    TaxType = "property"
	TaxTypeExcise      TaxType = "excise"
	TaxTypeWithholding TaxType = "withholding"
	TaxTypeCustom      TaxType = "custom"
)

func (t TaxType) Valid() bool {
	switch t {
	case TaxTypeSales, TaxTypeIncome, TaxTypeVAT, TaxTypeGST, TaxTypePayroll,
		TaxTypeProperty, TaxTypeExcise, TaxTypeWithholding, TaxTypeCustom:
		return true
	default:
		return false
	}
}

func ParseTaxType(value string) (TaxType, bool) {
	t := TaxType(strings.ToLower(strings.TrimSpace(value)))
	return t, t.Valid()
}

// RateType selects the computation semantics of a TaxRate.
type RateType string

const (
	RateTypePercentage RateType = "percentage"
	RateTypeFlat       RateType = "flat"
	RateTypeTiered     RateType = "tiered"
)

func (r RateType) Valid() bool {
	switch r {
	case RateTypePercentage, RateTypeFlat, RateTypeTiered:
		return true
	default:
		return false
	}
}

// RateTier is one slice of a tiered schedule. The slice [Min, Max) is taxed
// at Rate, expressed as a fraction (0.02 means 2%). A nil Max marks the
// single unbounded top tier.
type RateTier struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// TaxRate is a time-windowed rate inside a rule. Percentage rates are stored
// 0-100; flat rates are a raw amount.
type TaxRate struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	RuleID snowflake.ID `gorm:"column:rule_id;not null;index" json:"rule_id"`

	Rate     decimal.Decimal `gorm:"type:numeric(9,4);not null" json:"rate"`
	RateType RateType        `gorm:"column:rate_type;type:text;not null" json:"rate_type"`

	EffectiveFrom  time.Time  `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo    *time.Time `gorm:"column:effective_to" json:"effective_to,omitempty"`
	IsStandardRate bool       `gorm:"column:is_standard_rate;not null;default:true" json:"is_standard_rate"`
	Description    string     `gorm:"type:text" json:"description,omitempty"`

	MinimumThreshold decimal.NullDecimal `gorm:"column:minimum_threshold;type:numeric(20,2)" json:"minimum_threshold,omitempty"`
	MaximumThreshold decimal.NullDecimal `gorm:"column:maximum_threshold;type:numeric(20,2)" json:"maximum_threshold,omitempty"`
	MinimumTax       decimal.NullDecimal `gorm:"column:minimum_tax;type:numeric(20,2)" json:"minimum_tax,omitempty"`
	MaximumTax       decimal.NullDecimal `gorm:"column:maximum_tax;type:numeric(20,2)" json:"maximum_tax,omitempty"`

	ApplicableTransactionTypes datatypes.JSONSlice[string]   `gorm:"column:applicable_transaction_types" json:"applicable_transaction_types,omitempty"`
	Tiers                      datatypes.JSONSlice[RateTier] `gorm:"column:tiers" json:"tiers,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TaxRate) TableName() string { return "tax_rates" }

// AppliesTo reports whether the rate covers the transaction type. An empty
// set covers everything.
func (r *TaxRate) AppliesTo(transactionType string) bool {
	if len(r.ApplicableTransactionTypes) == 0 {
		return true
	}
	transactionType = strings.ToLower(strings.TrimSpace(transactionType))
	for _, t := range r.ApplicableTransactionTypes {
		if strings.ToLower(strings.TrimSpace(t)) == transactionType {
			return true
		}
	}
	return false
}

// EffectiveOn reports whether asOf falls inside the rate's window. Both
// boundary dates are inclusive.
func (r *TaxRate) EffectiveOn(asOf time.Time) bool {
	if r.EffectiveFrom.After(asOf) {
		return false
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(asOf) {
		return false
	}
	return true
}

func (r *TaxRate) Validate() error {
	if !r.RateType.Valid() {
		return ErrInvalidRateType
	}
	if r.Rate.IsNegative() {
		return ErrInvalidRate
	}
	if r.EffectiveTo != nil && r.EffectiveFrom.After(*r.EffectiveTo) {
		return ErrInvalidEffectiveWindow
	}
	if r.RateType == RateTypeTiered {
		return validateTiers(r.Tiers)
	}
	return nil
}

// validateTiers enforces: sorted by min ascending, contiguous without
// overlap, exactly one unbounded top tier, non-negative rates.
func validateTiers(tiers []RateTier) error {
	if len(tiers) == 0 {
		return ErrInvalidTiers
	}
	for i, tier := range tiers {
		if tier.Rate.IsNegative() || tier.Min.IsNegative() {
			return ErrInvalidTiers
		}
		last := i == len(tiers)-1
		if last {
			if tier.Max != nil {
				return ErrInvalidTiers
			}
			continue
		}
		if tier.Max == nil {
			return ErrInvalidTiers
		}
		if tier.Max.LessThanOrEqual(tier.Min) {
			return ErrInvalidTiers
		}
		if !tiers[i+1].Min.Equal(*tier.Max) {
			return ErrInvalidTiers
		}
	}
	return nil
}

// TaxRule is a named, versioned tax policy bound to one jurisdiction.
type TaxRule struct {
	ID snowflake.ID `gorm:"primaryKey" json:"id"`

	Code        string  `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name        string  `gorm:"type:text;not null" json:"name"`
	Description string  `gorm:"type:text" json:"description,omitempty"`
	TaxType     TaxType `gorm:"column:tax_type;type:text;not null;index" json:"tax_type"`

	JurisdictionID snowflake.ID                     `gorm:"column:jurisdiction_id;not null;index" json:"jurisdiction_id"`
	Jurisdiction   *jurisdictiondomain.Jurisdiction `gorm:"foreignKey:JurisdictionID" json:"jurisdiction,omitempty"`

	Category *string `gorm:"type:text" json:"category,omitempty"`
	IsActive bool    `gorm:"column:is_active;not null;default:true" json:"is_active"`

	RequiresTaxID   bool    `gorm:"column:requires_tax_id;not null;default:false" json:"requires_tax_id"`
	TaxIDFormat     *string `gorm:"column:tax_id_format;type:text" json:"tax_id_format,omitempty"`
	ValidationRegex *string `gorm:"column:validation_regex;type:text" json:"validation_regex,omitempty"`

	LiabilityAccountCode *string `gorm:"column:liability_account_code;type:text" json:"liability_account_code,omitempty"`
	ExpenseAccountCode   *string `gorm:"column:expense_account_code;type:text" json:"expense_account_code,omitempty"`

	Tags     datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags,omitempty"`
	Metadata datatypes.JSONMap           `gorm:"column:metadata" json:"metadata,omitempty"`

	// Ordered by effective_from descending when loaded.
	Rates []TaxRate `gorm:"foreignKey:RuleID" json:"rates,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TaxRule) TableName() string { return "tax_rules" }

func (r *TaxRule) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return ErrInvalidCode
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if !r.TaxType.Valid() {
		return ErrInvalidTaxType
	}
	if r.JurisdictionID == 0 {
		return ErrInvalidJurisdiction
	}
	for i := range r.Rates {
		if err := r.Rates[i].Validate(); err != nil {
			return err
		}
	}
	return validateWindows(r.Rates)
}

// validateWindows rejects overlapping effective windows within the same
// sub-kind (standard vs reduced).
func validateWindows(rates []TaxRate) error {
	for i := range rates {
		for j := i + 1; j < len(rates); j++ {
			if rates[i].IsStandardRate != rates[j].IsStandardRate {
				continue
			}
			if windowsOverlap(&rates[i], &rates[j]) {
				return ErrOverlappingRates
			}
		}
	}
	return nil
}

func windowsOverlap(a, b *TaxRate) bool {
	if a.EffectiveTo != nil && a.EffectiveTo.Before(b.EffectiveFrom) {
		return false
	}
	if b.EffectiveTo != nil && b.EffectiveTo.Before(a.EffectiveFrom) {
		return false
	}
	return true
}

// EffectiveRate returns the rate applying on asOf, or nil. Among overlapping
// candidates the greatest effective_from wins; the standard rate breaks a
// same-day tie. Selection is idempotent for a fixed (rule, date).
func (r *TaxRule) EffectiveRate(asOf time.Time) *TaxRate {
	var selected *TaxRate
	for i := range r.Rates {
		rate := &r.Rates[i]
		if !rate.EffectiveOn(asOf) {
			continue
		}
		switch {
		case selected == nil:
			selected = rate
		case rate.EffectiveFrom.After(selected.EffectiveFrom):
			selected = rate
		case rate.EffectiveFrom.Equal(selected.EffectiveFrom) && rate.IsStandardRate && !selected.IsStandardRate:
			selected = rate
		}
	}
	return selected
}

// HasTag reports whether the rule carries any of the wanted tags.
func (r *TaxRule) HasTag(wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		for _, t := range r.Tags {
			if strings.ToLower(strings.TrimSpace(t)) == w {
				return true
			}
		}
	}
	return false
}
