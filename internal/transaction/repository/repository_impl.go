package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/paksafinancial/taxengine/internal/transaction/domain"
	"github.com/paksafinancial/taxengine/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) domain.Repository {
	return &repository{db: gdb}
}

func (r *repository) Create(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	err := tx.WithContext(ctx).Create(txn).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateDocNumber
	}
	return err
}

func (r *repository) FindByID(ctx context.Context, companyID snowflake.ID, id uuid.UUID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := r.db.WithContext(ctx).
		Preload("Components").
		Where("id = ? AND company_id = ?", id, companyID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, companyID snowflake.ID, req domain.ListRequest) ([]domain.Transaction, error) {
	stmt := r.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Preload("Components").
		Where("company_id = ?", companyID)

	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.TaxType != "" {
		stmt = stmt.Where("tax_type = ?", req.TaxType)
	}
	if req.StartDate != nil {
		stmt = stmt.Where("transaction_date >= ?", req.StartDate)
	}
	if req.EndDate != nil {
		stmt = stmt.Where("transaction_date <= ?", req.EndDate)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	stmt = stmt.Order("transaction_date DESC").Order("document_number ASC").
		Limit(limit).Offset(req.Offset)

	var txns []domain.Transaction
	if err := stmt.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) Save(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	return tx.WithContext(ctx).
		Omit("Components").
		Save(txn).Error
}

func (r *repository) ReplaceComponents(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	if err := tx.WithContext(ctx).
		Where("transaction_id = ?", txn.ID).
		Delete(&domain.Component{}).Error; err != nil {
		return err
	}
	if len(txn.Components) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&txn.Components).Error
}

func (r *repository) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to domain.Status) (bool, error) {
	res := tx.WithContext(ctx).Exec(`
		UPDATE tax_transactions
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, id, from)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// NextDocumentNumber increments first so the counter row is write-locked for
// the remainder of the surrounding transaction; concurrent posters of the
// same (company, tax_type, year) serialize on that lock.
func (r *repository) NextDocumentNumber(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, taxType string, year int) (int64, error) {
	res := tx.WithContext(ctx).Exec(`
		UPDATE tax_document_counters
		SET next_number = next_number + 1
		WHERE company_id = ? AND tax_type = ? AND year = ?
	`, companyID, taxType, year)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		err := tx.WithContext(ctx).Create(&domain.DocumentCounter{
			CompanyID:  companyID,
			TaxType:    taxType,
			Year:       year,
			NextNumber: 1,
		}).Error
		if err == nil {
			return 1, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return 0, err
		}
		// Lost the insert race; increment the row the winner created.
		res = tx.WithContext(ctx).Exec(`
			UPDATE tax_document_counters
			SET next_number = next_number + 1
			WHERE company_id = ? AND tax_type = ? AND year = ?
		`, companyID, taxType, year)
		if res.Error != nil {
			return 0, res.Error
		}
	}

	var counter domain.DocumentCounter
	err := tx.WithContext(ctx).
		Where("company_id = ? AND tax_type = ? AND year = ?", companyID, taxType, year).
		First(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter.NextNumber, nil
}

func (r *repository) CountPostedByRule(ctx context.Context, ruleID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("rule_id = ? AND status IN ?", ruleID, []domain.Status{domain.StatusPosted, domain.StatusVoided}).
		Count(&count).Error
	return count, err
}

func (r *repository) CountPostedByCertificate(ctx context.Context, certificateID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("exemption_certificate_id = ? AND status IN ?", certificateID, []domain.Status{domain.StatusPosted, domain.StatusVoided}).
		Count(&count).Error
	return count, err
}
