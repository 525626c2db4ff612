package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PeriodKind selects how a reporting period is addressed.
type PeriodKind string

const (
	PeriodAnnual    PeriodKind = "annual"
	PeriodQuarterly PeriodKind = "quarterly"
	PeriodMonthly   PeriodKind = "monthly"
)

// Status grades a compliance dimension.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusWarning      Status = "WARNING"
	StatusNonCompliant Status = "NON_COMPLIANT"
	StatusOverdue      Status = "OVERDUE"
)

type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
)

// FilingStatus is the lifecycle of a tax return as the engine reads it.
type FilingStatus string

const (
	FilingStatusDraft FilingStatus = "draft"
	FilingStatusFiled FilingStatus = "filed"
)

// TaxReturn is read-only input to the analyzer; the engine never authors
// returns.
type TaxReturn struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID snowflake.ID `gorm:"column:company_id;not null;index" json:"company_id"`

	TaxType        string       `gorm:"column:tax_type;type:text;not null" json:"tax_type"`
	JurisdictionID snowflake.ID `gorm:"column:jurisdiction_id;index" json:"jurisdiction_id"`

	PeriodStart time.Time `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null" json:"period_end"`
	DueDate     time.Time `gorm:"column:due_date;not null" json:"due_date"`

	FilingStatus FilingStatus `gorm:"column:filing_status;type:text;not null" json:"filing_status"`
	FilingDate   *time.Time   `gorm:"column:filing_date" json:"filing_date,omitempty"`

	TaxDue  decimal.Decimal `gorm:"column:tax_due;type:numeric(20,2);not null" json:"tax_due"`
	TaxPaid decimal.Decimal `gorm:"column:tax_paid;type:numeric(20,2);not null" json:"tax_paid"`
}

func (TaxReturn) TableName() string { return "tax_returns" }

func (r *TaxReturn) Filed() bool { return r.FilingStatus == FilingStatusFiled }

func (r *TaxReturn) FiledTimely() bool {
	return r.Filed() && r.FilingDate != nil && !r.FilingDate.After(r.DueDate)
}

// TaxPayment is read-only input to the analyzer.
type TaxPayment struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID snowflake.ID `gorm:"column:company_id;not null;index" json:"company_id"`
	ReturnID  snowflake.ID `gorm:"column:return_id;index" json:"return_id,omitempty"`

	TaxType        string       `gorm:"column:tax_type;type:text" json:"tax_type,omitempty"`
	JurisdictionID snowflake.ID `gorm:"column:jurisdiction_id" json:"jurisdiction_id,omitempty"`

	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	DueDate     time.Time       `gorm:"column:due_date;not null" json:"due_date"`
	PaymentDate *time.Time      `gorm:"column:payment_date" json:"payment_date,omitempty"`
}

func (TaxPayment) TableName() string { return "tax_payments" }

func (p *TaxPayment) PaidTimely() bool {
	return p.PaymentDate != nil && !p.PaymentDate.After(p.DueDate)
}

// FilingCompliance summarizes return filing performance. Rates are
// percentages 0-100.
type FilingCompliance struct {
	TotalReturnsDue int             `json:"total_returns_due"`
	Filed           int             `json:"filed"`
	Overdue         int             `json:"overdue"`
	Draft           int             `json:"draft"`
	FilingRate      decimal.Decimal `json:"filing_rate"`
	TimelyFilings   int             `json:"timely_filings"`
	TimelinessRate  decimal.Decimal `json:"timeliness_rate"`
	Status          Status          `json:"status"`
}

type PaymentCompliance struct {
	TotalDue           decimal.Decimal `json:"total_due"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	PaymentRate        decimal.Decimal `json:"payment_rate"`
	TimelyPayments     int             `json:"timely_payments"`
	TotalPayments      int             `json:"total_payments"`
	TimelinessRate     decimal.Decimal `json:"timeliness_rate"`
	Status             Status          `json:"status"`
}

type JurisdictionCompliance struct {
	JurisdictionID snowflake.ID     `json:"jurisdiction_id"`
	Filing         FilingCompliance `json:"filing"`
}

type Alert struct {
	Type     string          `json:"type"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	ReturnID snowflake.ID    `json:"return_id,omitempty"`
	Days     int             `json:"days,omitempty"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
}

const (
	AlertOverdueFiling      = "OVERDUE_FILING"
	AlertUpcomingDueDate    = "UPCOMING_DUE_DATE"
	AlertOutstandingBalance = "OUTSTANDING_BALANCE"
)

// Report is the composite compliance picture for one company and period.
type Report struct {
	CompanyID   snowflake.ID `json:"company_id"`
	PeriodKind  PeriodKind   `json:"period_kind"`
	Year        int          `json:"year"`
	PeriodIndex int          `json:"period_index,omitempty"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`

	Filing        FilingCompliance         `json:"filing_compliance"`
	Payment       PaymentCompliance        `json:"payment_compliance"`
	Jurisdictions []JurisdictionCompliance `json:"jurisdiction_compliance,omitempty"`

	// Score is 0-100, the average of the filing and payment halves.
	Score int `json:"compliance_score"`

	Alerts          []Alert  `json:"alerts,omitempty"`
	Recommendations []string `json:"recommendations"`

	GeneratedAt time.Time `json:"generated_at"`
}

const (
	AnomalyRapidChanges  = "rapid_changes"
	AnomalyAfterHours    = "after_hours_activity"
	AnomalyBulkDeletions = "bulk_deletions"
)

// Anomaly is one suspicious pattern found in the audit trail.
type Anomaly struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Count       int       `json:"count"`
	Severity    Severity  `json:"severity"`
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
}
