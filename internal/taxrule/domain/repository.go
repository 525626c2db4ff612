package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SearchFilter struct {
	TaxType     TaxType
	CountryCode string
	StateCode   string
	CityName    string
	Category    string
	IsActive    *bool
	Tags        []string
}

// Mutating methods accept the caller's transaction so the write commits or
// rolls back together with its audit entry; a nil tx uses the repository's
// own connection.
type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, rule *TaxRule) error
	Update(ctx context.Context, tx *gorm.DB, rule *TaxRule) error
	FindByCode(ctx context.Context, code string) (*TaxRule, error)
	FindByID(ctx context.Context, id snowflake.ID) (*TaxRule, error)
	Search(ctx context.Context, filter SearchFilter) ([]TaxRule, error)
	LoadAll(ctx context.Context) ([]TaxRule, error)
	ReplaceRates(ctx context.Context, tx *gorm.DB, ruleID snowflake.ID, rates []TaxRate) error
	SetActive(ctx context.Context, tx *gorm.DB, id snowflake.ID, active bool) error
}

// LedgerChecker is the Transaction Ledger's answer to "is this rule still
// referenced by a posted transaction". Implemented by the transaction
// package to keep the dependency one-way.
type LedgerChecker interface {
	RuleHasPostedTransactions(ctx context.Context, ruleID snowflake.ID) (bool, error)
}
