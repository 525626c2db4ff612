package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidPeriod   = errors.New("invalid_report_period")
	ErrInvalidLookback = errors.New("invalid_lookback_window")
)

type ReportRequest struct {
	PeriodKind  PeriodKind `json:"period_kind" binding:"required"`
	Year        int        `json:"year" binding:"required"`
	PeriodIndex int        `json:"period_index,omitempty"`
}

// Analyzer produces compliance reports and audit-trail anomaly scans. Both
// operations honor context cancellation at every query boundary.
type Analyzer interface {
	GenerateComplianceReport(ctx context.Context, req ReportRequest) (*Report, error)
	DetectSuspiciousActivity(ctx context.Context, lookbackDays int) ([]Anomaly, error)
}

// ChangeGroup is an aggregated slice of audit activity for one actor and
// entity.
type ChangeGroup struct {
	EntityType string
	EntityID   string
	UserID     string
	Count      int
	FirstAt    time.Time
	LastAt     time.Time
}

// ActorGroup aggregates audit activity per actor and entity type.
type ActorGroup struct {
	UserID     string
	EntityType string
	Count      int
}

// ActorEvent is one audit action with its actor and time.
type ActorEvent struct {
	UserID    string
	CreatedAt time.Time
}

// Repository is the analyzer's read-only port over returns, payments, and
// the audit trail.
type Repository interface {
	ListReturns(ctx context.Context, companyID snowflake.ID, periodStart, periodEnd time.Time) ([]TaxReturn, error)
	ListPayments(ctx context.Context, companyID snowflake.ID, periodStart, periodEnd time.Time) ([]TaxPayment, error)

	// MutationGroups aggregates UPDATE/DELETE audit entries per
	// (entity, user) since the given time, returning groups above minCount.
	MutationGroups(ctx context.Context, since time.Time, minCount int) ([]ChangeGroup, error)

	// ActorEvents returns every attributed audit action since the given
	// time.
	ActorEvents(ctx context.Context, since time.Time) ([]ActorEvent, error)

	// DeleteGroups aggregates DELETE audit entries per (user, entity_type)
	// since the given time, returning groups above minCount.
	DeleteGroups(ctx context.Context, since time.Time, minCount int) ([]ActorGroup, error)
}
