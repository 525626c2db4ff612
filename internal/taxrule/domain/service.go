package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SearchRequest struct {
	TaxType     string   `form:"tax_type"`
	CountryCode string   `form:"country"`
	StateCode   string   `form:"state"`
	CityName    string   `form:"city"`
	Category    string   `form:"category"`
	IsActive    *bool    `form:"is_active"`
	Tags        []string `form:"tags"`
}

type RateInput struct {
	Rate           decimal.Decimal `json:"rate"`
	RateType       RateType        `json:"rate_type" binding:"required"`
	EffectiveFrom  time.Time       `json:"effective_from" binding:"required"`
	EffectiveTo    *time.Time      `json:"effective_to,omitempty"`
	IsStandardRate *bool           `json:"is_standard_rate,omitempty"`
	Description    string          `json:"description,omitempty"`

	MinimumThreshold decimal.NullDecimal `json:"minimum_threshold,omitempty"`
	MaximumThreshold decimal.NullDecimal `json:"maximum_threshold,omitempty"`
	MinimumTax       decimal.NullDecimal `json:"minimum_tax,omitempty"`
	MaximumTax       decimal.NullDecimal `json:"maximum_tax,omitempty"`

	ApplicableTransactionTypes []string   `json:"applicable_transaction_types,omitempty"`
	Tiers                      []RateTier `json:"tiers,omitempty"`
}

type CreateRuleRequest struct {
	Code             string            `json:"code" binding:"required"`
	Name             string            `json:"name" binding:"required"`
	Description      string            `json:"description,omitempty"`
	TaxType          TaxType           `json:"tax_type" binding:"required"`
	JurisdictionCode string            `json:"jurisdiction_code" binding:"required"`
	Category         *string           `json:"category,omitempty"`
	RequiresTaxID    bool              `json:"requires_tax_id"`
	TaxIDFormat      *string           `json:"tax_id_format,omitempty"`
	ValidationRegex  *string           `json:"validation_regex,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	Rates            []RateInput       `json:"rates" binding:"required"`
}

type UpdateRuleRequest struct {
	Code string `json:"code"`

	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Category    *string           `json:"category,omitempty"`
	IsActive    *bool             `json:"is_active,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	Rates       []RateInput       `json:"rates,omitempty"`
}

// Registry is the canonical store and index for tax rules. Lookups are
// served from an in-memory snapshot when caching is enabled; mutations go to
// the store and rebuild the snapshot.
type Registry interface {
	GetRule(ctx context.Context, code string) (*TaxRule, error)
	SearchRules(ctx context.Context, req SearchRequest) ([]TaxRule, error)
	GetEffectiveRate(ctx context.Context, code string, asOf time.Time) (*TaxRate, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (*TaxRule, error)
	UpdateRule(ctx context.Context, req UpdateRuleRequest) (*TaxRule, error)
	DeleteRule(ctx context.Context, code string) error

	// RulesForJurisdictions returns active rules of the tax type grouped by
	// jurisdiction id, for the calculator's candidate selection.
	RulesForJurisdictions(ctx context.Context, taxType TaxType, jurisdictionIDs []snowflake.ID) (map[snowflake.ID][]TaxRule, error)

	RefreshFromExternal(ctx context.Context) error
}
