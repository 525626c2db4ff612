package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/compliance/domain"
	"github.com/paksafinancial/taxengine/internal/compliance/repository"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const companyID = snowflake.ID(42)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestAnalyzer(t *testing.T) (*Analyzer, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&domain.TaxReturn{},
		&domain.TaxPayment{},
		&auditdomain.Entry{},
	))

	clk := clock.NewFakeClock(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))

	analyzer := NewAnalyzer(Params{
		Log:    zap.NewNop(),
		Clock:  clk,
		Engine: config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		Repo:   repository.NewRepository(gdb),
	})
	return analyzer.(*Analyzer), gdb, clk
}

func testCtx() context.Context {
	return tenantctx.WithCompanyID(context.Background(), companyID)
}

func seedReturn(t *testing.T, gdb *gorm.DB, id int64, due time.Time, filed bool, filedOn *time.Time, taxDue, taxPaid string) {
	t.Helper()
	status := domain.FilingStatusDraft
	if filed {
		status = domain.FilingStatusFiled
	}
	require.NoError(t, gdb.Create(&domain.TaxReturn{
		ID:             snowflake.ID(id),
		CompanyID:      companyID,
		TaxType:        "sales",
		JurisdictionID: 2,
		PeriodStart:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		DueDate:        due,
		FilingStatus:   status,
		FilingDate:     filedOn,
		TaxDue:         dec(taxDue),
		TaxPaid:        dec(taxPaid),
	}).Error)
}

func seedAudit(t *testing.T, gdb *gorm.DB, id int64, user string, action auditdomain.Action, entityType, entityID string, at time.Time) {
	t.Helper()
	require.NoError(t, gdb.Create(&auditdomain.Entry{
		ID:         snowflake.ID(id),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		UserID:     &user,
		CreatedAt:  at,
	}).Error)
}

func q1Request() domain.ReportRequest {
	return domain.ReportRequest{PeriodKind: domain.PeriodQuarterly, Year: 2024, PeriodIndex: 1}
}

func TestReport_FilingCompliant(t *testing.T) {
	analyzer, gdb, _ := newTestAnalyzer(t)

	// 20 returns due in Q1 2024: all filed, 19 of them on time.
	due := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	onTime := due.AddDate(0, 0, -5)
	late := due.AddDate(0, 0, 3)
	for i := int64(1); i <= 20; i++ {
		filedOn := onTime
		if i == 20 {
			filedOn = late
		}
		seedReturn(t, gdb, i, due, true, &filedOn, "100.00", "100.00")
	}

	report, err := analyzer.GenerateComplianceReport(testCtx(), q1Request())
	require.NoError(t, err)

	assert.Equal(t, 20, report.Filing.TotalReturnsDue)
	assert.Equal(t, 20, report.Filing.Filed)
	assert.Equal(t, 19, report.Filing.TimelyFilings)
	assert.True(t, report.Filing.FilingRate.Equal(dec("100")))
	assert.True(t, report.Filing.TimelinessRate.Equal(dec("95")))
	assert.Equal(t, domain.StatusCompliant, report.Filing.Status)
	assert.Equal(t, domain.StatusCompliant, report.Payment.Status)
	assert.Empty(t, report.Alerts)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "Maintain")
}

func TestReport_OverdueFiling(t *testing.T) {
	analyzer, gdb, _ := newTestAnalyzer(t)

	// Due 2024-05-15, unfiled, and today is 2024-07-01: 47 days overdue.
	due := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	seedReturn(t, gdb, 1, due, false, nil, "500.00", "0.00")

	report, err := analyzer.GenerateComplianceReport(testCtx(), q1Request())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Filing.Overdue)
	assert.Equal(t, domain.StatusOverdue, report.Filing.Status)

	require.NotEmpty(t, report.Alerts)
	overdue := report.Alerts[0]
	assert.Equal(t, domain.AlertOverdueFiling, overdue.Type)
	assert.Equal(t, domain.SeverityHigh, overdue.Severity, "more than 30 days overdue")
	assert.Equal(t, 47, overdue.Days)
}

func TestReport_UpcomingDueDateAlert(t *testing.T) {
	analyzer, gdb, _ := newTestAnalyzer(t)

	due := time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)
	seedReturn(t, gdb, 1, due, false, nil, "100.00", "100.00")

	report, err := analyzer.GenerateComplianceReport(testCtx(), q1Request())
	require.NoError(t, err)

	require.NotEmpty(t, report.Alerts)
	assert.Equal(t, domain.AlertUpcomingDueDate, report.Alerts[0].Type)
	assert.Equal(t, 18, report.Alerts[0].Days)
}

func TestReport_OutstandingBalance(t *testing.T) {
	analyzer, gdb, _ := newTestAnalyzer(t)

	filedOn := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	seedReturn(t, gdb, 1, due, true, &filedOn, "25000.00", "5000.00")

	report, err := analyzer.GenerateComplianceReport(testCtx(), q1Request())
	require.NoError(t, err)

	assert.True(t, report.Payment.OutstandingBalance.Equal(dec("20000.00")))
	assert.Equal(t, domain.StatusOverdue, report.Payment.Status, "balance above the configured threshold")

	var balanceAlert *domain.Alert
	for i := range report.Alerts {
		if report.Alerts[i].Type == domain.AlertOutstandingBalance {
			balanceAlert = &report.Alerts[i]
		}
	}
	require.NotNil(t, balanceAlert)
	assert.Equal(t, domain.SeverityHigh, balanceAlert.Severity)
}

func TestReport_ScoreAveragesBothHalves(t *testing.T) {
	analyzer, gdb, _ := newTestAnalyzer(t)

	filedOn := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	seedReturn(t, gdb, 1, due, true, &filedOn, "100.00", "100.00")

	report, err := analyzer.GenerateComplianceReport(testCtx(), q1Request())
	require.NoError(t, err)
	assert.Equal(t, 100, report.Score)
}

func TestReport_InvalidPeriod(t *testing.T) {
	analyzer, _, _ := newTestAnalyzer(t)

	_, err := analyzer.GenerateComplianceReport(testCtx(), domain.ReportRequest{
		PeriodKind: domain.PeriodQuarterly, Year: 2024, PeriodIndex: 5,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = analyzer.GenerateComplianceReport(testCtx(), domain.ReportRequest{
		PeriodKind: "weekly", Year: 2024,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestDetect_RapidChanges(t *testing.T) {
	analyzer, gdb, clk := newTestAnalyzer(t)

	// 15 UPDATE entries on the same rule within 20 minutes.
	base := clk.Now().AddDate(0, 0, -2)
	for i := int64(0); i < 15; i++ {
		seedAudit(t, gdb, 100+i, "user-u", auditdomain.ActionUpdate, "tax_rule", "US-CA-SALES",
			base.Add(time.Duration(i)*80*time.Second))
	}

	anomalies, err := analyzer.DetectSuspiciousActivity(testCtx(), 30)
	require.NoError(t, err)

	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.AnomalyRapidChanges, anomalies[0].Type)
	assert.Equal(t, "user-u", anomalies[0].UserID)
	assert.Equal(t, 15, anomalies[0].Count)
	assert.Equal(t, domain.SeverityMedium, anomalies[0].Severity)
}

func TestDetect_RapidChangesHighSeverity(t *testing.T) {
	analyzer, gdb, clk := newTestAnalyzer(t)

	base := clk.Now().AddDate(0, 0, -1)
	for i := int64(0); i < 25; i++ {
		seedAudit(t, gdb, 200+i, "user-v", auditdomain.ActionUpdate, "tax_rule", "US-NY-SALES",
			base.Add(time.Duration(i)*time.Minute))
	}

	anomalies, err := analyzer.DetectSuspiciousActivity(testCtx(), 30)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.SeverityHigh, anomalies[0].Severity)
}

func TestDetect_SlowChangesAreNotAnomalous(t *testing.T) {
	analyzer, gdb, clk := newTestAnalyzer(t)

	// 15 updates spread over five days never fit in the one hour window.
	base := clk.Now().AddDate(0, 0, -6)
	for i := int64(0); i < 15; i++ {
		seedAudit(t, gdb, 300+i, "user-w", auditdomain.ActionUpdate, "tax_rule", "US-TX-SALES",
			base.Add(time.Duration(i)*8*time.Hour))
	}

	anomalies, err := analyzer.DetectSuspiciousActivity(testCtx(), 30)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestDetect_AfterHoursActivity(t *testing.T) {
	analyzer, gdb, clk := newTestAnalyzer(t)

	day := clk.Now().AddDate(0, 0, -3)
	for i := int64(0); i < 7; i++ {
		at := time.Date(day.Year(), day.Month(), day.Day(), 23, int(i*5), 0, 0, time.UTC)
		seedAudit(t, gdb, 400+i, "night-user", auditdomain.ActionCreate, "tax_transaction", fmt.Sprintf("txn-%d", i), at)
	}

	anomalies, err := analyzer.DetectSuspiciousActivity(testCtx(), 30)
	require.NoError(t, err)

	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.AnomalyAfterHours, anomalies[0].Type)
	assert.Equal(t, "night-user", anomalies[0].UserID)
	assert.Equal(t, 7, anomalies[0].Count)
	assert.Equal(t, domain.SeverityMedium, anomalies[0].Severity)
}

func TestDetect_BulkDeletions(t *testing.T) {
	analyzer, gdb, clk := newTestAnalyzer(t)

	day := clk.Now().AddDate(0, 0, -1)
	for i := int64(0); i < 8; i++ {
		at := time.Date(day.Year(), day.Month(), day.Day(), 14, int(i), 0, 0, time.UTC)
		seedAudit(t, gdb, 500+i, "cleanup-user", auditdomain.ActionDelete, "tax_rule", fmt.Sprintf("rule-%d", i), at)
	}

	anomalies, err := analyzer.DetectSuspiciousActivity(testCtx(), 30)
	require.NoError(t, err)

	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.AnomalyBulkDeletions, anomalies[0].Type)
	assert.Equal(t, 8, anomalies[0].Count)
	assert.Equal(t, domain.SeverityHigh, anomalies[0].Severity)
}

func TestDetect_InvalidLookback(t *testing.T) {
	analyzer, _, _ := newTestAnalyzer(t)

	_, err := analyzer.DetectSuspiciousActivity(testCtx(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidLookback)
}
