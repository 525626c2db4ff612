package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/paksafinancial/taxengine/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) domain.Repository {
	return &repository{db: gdb}
}

func (r *repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *repository) Create(ctx context.Context, tx *gorm.DB, rule *domain.TaxRule) error {
	conn := r.conn(tx).WithContext(ctx)
	if err := conn.Omit("Jurisdiction", "Rates").Create(rule).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateCode
		}
		return err
	}
	for i := range rule.Rates {
		rule.Rates[i].RuleID = rule.ID
	}
	if len(rule.Rates) > 0 {
		if err := conn.Create(&rule.Rates).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, rule *domain.TaxRule) error {
	return r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tax_rules
		 SET name = ?, description = ?, category = ?, is_active = ?, tags = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Name,
		rule.Description,
		rule.Category,
		rule.IsActive,
		rule.Tags,
		rule.Metadata,
		rule.UpdatedAt,
		rule.ID,
	).Error
}

func (r *repository) ReplaceRates(ctx context.Context, tx *gorm.DB, ruleID snowflake.ID, rates []domain.TaxRate) error {
	conn := r.conn(tx).WithContext(ctx)
	if err := conn.Exec(`DELETE FROM tax_rates WHERE rule_id = ?`, ruleID).Error; err != nil {
		return err
	}
	if len(rates) == 0 {
		return nil
	}
	for i := range rates {
		rates[i].RuleID = ruleID
	}
	return conn.Create(&rates).Error
}

func (r *repository) SetActive(ctx context.Context, tx *gorm.DB, id snowflake.ID, active bool) error {
	return r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tax_rules SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id,
	).Error
}

func (r *repository) FindByCode(ctx context.Context, code string) (*domain.TaxRule, error) {
	var rule domain.TaxRule
	err := r.db.WithContext(ctx).
		Preload("Rates", func(tx *gorm.DB) *gorm.DB { return tx.Order("effective_from DESC") }).
		Preload("Jurisdiction").
		Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.TaxRule, error) {
	var rule domain.TaxRule
	err := r.db.WithContext(ctx).
		Preload("Rates", func(tx *gorm.DB) *gorm.DB { return tx.Order("effective_from DESC") }).
		Preload("Jurisdiction").
		Where("id = ?", id).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Search filters on relational columns; tag overlap is applied by the caller
// because tags live in a JSON column.
func (r *repository) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.TaxRule, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.TaxRule{}).
		Preload("Rates", func(tx *gorm.DB) *gorm.DB { return tx.Order("effective_from DESC") }).
		Preload("Jurisdiction")

	if filter.TaxType != "" {
		stmt = stmt.Where("tax_rules.tax_type = ?", filter.TaxType)
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("tax_rules.is_active = ?", *filter.IsActive)
	}
	if filter.Category != "" {
		stmt = stmt.Where("LOWER(tax_rules.category) = ?", strings.ToLower(strings.TrimSpace(filter.Category)))
	}

	if filter.CountryCode != "" || filter.StateCode != "" || filter.CityName != "" {
		stmt = stmt.Joins("JOIN tax_jurisdictions ON tax_jurisdictions.id = tax_rules.jurisdiction_id")
		if filter.CountryCode != "" {
			stmt = stmt.Where("UPPER(tax_jurisdictions.country_code) = ?", strings.ToUpper(strings.TrimSpace(filter.CountryCode)))
		}
		if filter.StateCode != "" {
			stmt = stmt.Where("UPPER(tax_jurisdictions.state_code) = ?", strings.ToUpper(strings.TrimSpace(filter.StateCode)))
		}
		if filter.CityName != "" {
			stmt = stmt.Where("LOWER(tax_jurisdictions.city_name) = ?", strings.ToLower(strings.TrimSpace(filter.CityName)))
		}
	}

	var rules []domain.TaxRule
	if err := stmt.Order("tax_rules.code ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) LoadAll(ctx context.Context) ([]domain.TaxRule, error) {
	var rules []domain.TaxRule
	err := r.db.WithContext(ctx).
		Preload("Rates", func(tx *gorm.DB) *gorm.DB { return tx.Order("effective_from DESC") }).
		Preload("Jurisdiction").
		Order("code ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}
