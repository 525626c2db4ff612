package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/paksafinancial/taxengine/pkg/db/option"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *repository) Create(ctx context.Context, tx *gorm.DB, j *domain.Jurisdiction) error {
	return r.conn(tx).WithContext(ctx).Create(j).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Jurisdiction, error) {
	var row domain.Jurisdiction
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*domain.Jurisdiction, error) {
	var row domain.Jurisdiction
	err := r.db.WithContext(ctx).
		Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindNode(ctx context.Context, level domain.Level, addr domain.Address) (*domain.Jurisdiction, error) {
	stmt := r.db.WithContext(ctx).
		Model(&domain.Jurisdiction{}).
		Where("level = ? AND is_active = ?", level, true).
		Where("UPPER(country_code) = ?", addr.CountryCode)

	switch level {
	case domain.LevelState:
		stmt = stmt.Where("UPPER(state_code) = ?", addr.StateCode)
	case domain.LevelCounty:
		stmt = stmt.Where("UPPER(state_code) = ? AND LOWER(county_name) = ?", addr.StateCode, strings.ToLower(addr.CountyName))
	case domain.LevelCity:
		stmt = stmt.Where("UPPER(state_code) = ? AND LOWER(city_name) = ?", addr.StateCode, strings.ToLower(addr.CityName))
	}

	var row domain.Jurisdiction
	err := stmt.Order("code ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListDistricts(ctx context.Context, countryCode, stateCode string) ([]domain.Jurisdiction, error) {
	var rows []domain.Jurisdiction
	err := r.db.WithContext(ctx).
		Where("level = ? AND is_active = ?", domain.LevelDistrict, true).
		Where("UPPER(country_code) = ? AND UPPER(state_code) = ?",
			strings.ToUpper(strings.TrimSpace(countryCode)),
			strings.ToUpper(strings.TrimSpace(stateCode))).
		Order("code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) List(ctx context.Context, filter domain.ListRequest) ([]domain.Jurisdiction, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.Jurisdiction{})

	if filter.Level != "" {
		stmt = stmt.Where("level = ?", filter.Level)
	}
	if filter.CountryCode != "" {
		stmt = stmt.Where("UPPER(country_code) = ?", strings.ToUpper(strings.TrimSpace(filter.CountryCode)))
	}
	if filter.StateCode != "" {
		stmt = stmt.Where("UPPER(state_code) = ?", strings.ToUpper(strings.TrimSpace(filter.StateCode)))
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("is_active = ?", *filter.IsActive)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"code":       true,
		"level":      true,
	})).Apply(stmt)

	var rows []domain.Jurisdiction
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, j *domain.Jurisdiction) error {
	return r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tax_jurisdictions
		 SET name = ?, is_active = ?, registration_required = ?, minimum_transaction_amount = ?,
		     required_filing_frequency = ?, updated_at = ?
		 WHERE id = ?`,
		j.Name,
		j.IsActive,
		j.RegistrationRequired,
		j.MinimumTransactionAmount,
		j.RequiredFilingFrequency,
		j.UpdatedAt,
		j.ID,
	).Error
}
