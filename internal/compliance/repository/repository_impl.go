package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/internal/compliance/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) domain.Repository {
	return &repository{db: gdb}
}

func (r *repository) ListReturns(ctx context.Context, companyID snowflake.ID, periodStart, periodEnd time.Time) ([]domain.TaxReturn, error) {
	var returns []domain.TaxReturn
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND period_start >= ? AND period_end <= ?", companyID, periodStart, periodEnd).
		Order("due_date ASC").
		Find(&returns).Error
	if err != nil {
		return nil, err
	}
	return returns, nil
}

func (r *repository) ListPayments(ctx context.Context, companyID snowflake.ID, periodStart, periodEnd time.Time) ([]domain.TaxPayment, error) {
	var payments []domain.TaxPayment
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND due_date >= ? AND due_date <= ?", companyID, periodStart, periodEnd).
		Order("due_date ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) MutationGroups(ctx context.Context, since time.Time, minCount int) ([]domain.ChangeGroup, error) {
	var groups []domain.ChangeGroup
	err := r.db.WithContext(ctx).Raw(`
		SELECT entity_type,
		       entity_id,
		       user_id,
		       COUNT(*)        AS count,
		       MIN(created_at) AS first_at,
		       MAX(created_at) AS last_at
		FROM tax_audit_trail
		WHERE action IN ('UPDATE', 'DELETE')
		  AND created_at >= ?
		  AND user_id IS NOT NULL
		GROUP BY entity_type, entity_id, user_id
		HAVING COUNT(*) > ?
	`, since, minCount).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repository) ActorEvents(ctx context.Context, since time.Time) ([]domain.ActorEvent, error) {
	var events []domain.ActorEvent
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id, created_at
		FROM tax_audit_trail
		WHERE created_at >= ?
		  AND user_id IS NOT NULL
	`, since).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) DeleteGroups(ctx context.Context, since time.Time, minCount int) ([]domain.ActorGroup, error) {
	var groups []domain.ActorGroup
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id,
		       entity_type,
		       COUNT(*) AS count
		FROM tax_audit_trail
		WHERE action = 'DELETE'
		  AND created_at >= ?
		  AND user_id IS NOT NULL
		GROUP BY user_id, entity_type
		HAVING COUNT(*) > ?
	`, since, minCount).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}
