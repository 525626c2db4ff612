package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/internal/exemption/domain"
	"github.com/paksafinancial/taxengine/pkg/db"
	"github.com/paksafinancial/taxengine/pkg/db/option"
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

func (r *repository) Create(ctx context.Context, tx *gorm.DB, cert *domain.Certificate) error {
	err := r.conn(tx).WithContext(ctx).Create(cert).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateNumber
	}
	return err
}

func (r *repository) FindByNumber(ctx context.Context, companyID snowflake.ID, certificateNumber string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND UPPER(certificate_number) = ?",
			companyID, strings.ToUpper(strings.TrimSpace(certificateNumber))).
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *repository) List(ctx context.Context, companyID snowflake.ID, filter domain.ListRequest) ([]domain.Certificate, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.Certificate{}).
		Where("company_id = ?", companyID)

	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if exemptionType := strings.TrimSpace(filter.ExemptionType); exemptionType != "" {
		stmt = stmt.Where("UPPER(exemption_type) = ?", strings.ToUpper(exemptionType))
	}
	if filter.IsActive != nil {
		stmt = stmt.Where("is_active = ?", *filter.IsActive)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at":  true,
		"updated_at":  true,
		"issue_date":  true,
		"expiry_date": true,
	})).Apply(stmt)

	var certs []domain.Certificate
	if err := stmt.Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, cert *domain.Certificate) error {
	return r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tax_exemption_certificates
		 SET expiry_date = ?, is_active = ?, tax_codes = ?, jurisdictions = ?,
		     document_reference = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		cert.ExpiryDate,
		cert.IsActive,
		cert.TaxCodes,
		cert.Jurisdictions,
		cert.DocumentReference,
		cert.Metadata,
		cert.UpdatedAt,
		cert.ID,
	).Error
}

func (r *repository) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return r.conn(tx).WithContext(ctx).Exec(
		`DELETE FROM tax_exemption_certificates WHERE id = ?`, id,
	).Error
}
