package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/compliance/domain"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var percentScale = decimal.NewFromInt(100)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Engine  *config.EngineConfigHolder
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Analyzer struct {
	log     *zap.Logger
	clock   clock.Clock
	engine  *config.EngineConfigHolder
	repo    domain.Repository
	metrics *metrics.Metrics
}

func NewAnalyzer(p Params) domain.Analyzer {
	return &Analyzer{
		log:     p.Log.Named("compliance.service"),
		clock:   p.Clock,
		engine:  p.Engine,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (a *Analyzer) GenerateComplianceReport(ctx context.Context, req domain.ReportRequest) (*domain.Report, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}

	periodStart, periodEnd, err := resolvePeriod(req)
	if err != nil {
		return nil, err
	}

	returns, err := a.repo.ListReturns(ctx, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	payments, err := a.repo.ListPayments(ctx, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	cfg := a.engine.Get()
	now := a.clock.Now()

	report := &domain.Report{
		CompanyID:   companyID,
		PeriodKind:  req.PeriodKind,
		Year:        req.Year,
		PeriodIndex: req.PeriodIndex,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GeneratedAt: now,
	}

	report.Filing = a.filingCompliance(returns, cfg, now)
	report.Payment = a.paymentCompliance(returns, payments, cfg)
	report.Jurisdictions = a.jurisdictionCompliance(returns, cfg, now)
	report.Score = complianceScore(report.Filing, report.Payment)
	report.Alerts = a.buildAlerts(returns, report.Payment.OutstandingBalance, cfg, now)
	report.Recommendations = buildRecommendations(report.Filing, report.Payment, cfg)

	return report, nil
}

func (a *Analyzer) filingCompliance(returns []domain.TaxReturn, cfg config.EngineConfig, now time.Time) domain.FilingCompliance {
	fc := domain.FilingCompliance{
		TotalReturnsDue: len(returns),
		FilingRate:      percentScale,
		TimelinessRate:  percentScale,
	}
	for i := range returns {
		ret := &returns[i]
		switch {
		case ret.Filed():
			fc.Filed++
			if ret.FiledTimely() {
				fc.TimelyFilings++
			}
		case ret.DueDate.Before(now):
			fc.Overdue++
		default:
			fc.Draft++
		}
	}
	if fc.TotalReturnsDue > 0 {
		fc.FilingRate = rate(fc.Filed, fc.TotalReturnsDue)
	}
	if fc.Filed > 0 {
		fc.TimelinessRate = rate(fc.TimelyFilings, fc.Filed)
	}
	fc.Status = gradeStatus(fc.Overdue > 0, fc.FilingRate, fc.TimelinessRate, cfg)
	return fc
}

func (a *Analyzer) paymentCompliance(returns []domain.TaxReturn, payments []domain.TaxPayment, cfg config.EngineConfig) domain.PaymentCompliance {
	pc := domain.PaymentCompliance{
		TotalDue:       decimal.Zero,
		TotalPaid:      decimal.Zero,
		PaymentRate:    percentScale,
		TimelinessRate: percentScale,
		TotalPayments:  len(payments),
	}
	for i := range returns {
		pc.TotalDue = pc.TotalDue.Add(returns[i].TaxDue)
		pc.TotalPaid = pc.TotalPaid.Add(returns[i].TaxPaid)
	}
	pc.OutstandingBalance = pc.TotalDue.Sub(pc.TotalPaid)
	if pc.OutstandingBalance.IsNegative() {
		pc.OutstandingBalance = decimal.Zero
	}
	if pc.TotalDue.IsPositive() {
		pc.PaymentRate = pc.TotalPaid.Div(pc.TotalDue).Mul(percentScale).Round(2)
		if pc.PaymentRate.GreaterThan(percentScale) {
			pc.PaymentRate = percentScale
		}
	}
	for i := range payments {
		if payments[i].PaidTimely() {
			pc.TimelyPayments++
		}
	}
	if pc.TotalPayments > 0 {
		pc.TimelinessRate = rate(pc.TimelyPayments, pc.TotalPayments)
	}

	overThreshold := pc.OutstandingBalance.GreaterThan(decimal.NewFromFloat(cfg.OutstandingBalanceAlertThreshold))
	pc.Status = gradeStatus(overThreshold, pc.PaymentRate, pc.TimelinessRate, cfg)
	return pc
}

func (a *Analyzer) jurisdictionCompliance(returns []domain.TaxReturn, cfg config.EngineConfig, now time.Time) []domain.JurisdictionCompliance {
	byJurisdiction := make(map[snowflake.ID][]domain.TaxReturn)
	for i := range returns {
		id := returns[i].JurisdictionID
		byJurisdiction[id] = append(byJurisdiction[id], returns[i])
	}
	ids := make([]snowflake.ID, 0, len(byJurisdiction))
	for id := range byJurisdiction {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.JurisdictionCompliance, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.JurisdictionCompliance{
			JurisdictionID: id,
			Filing:         a.filingCompliance(byJurisdiction[id], cfg, now),
		})
	}
	return out
}

func (a *Analyzer) buildAlerts(returns []domain.TaxReturn, outstanding decimal.Decimal, cfg config.EngineConfig, now time.Time) []domain.Alert {
	var alerts []domain.Alert
	for i := range returns {
		ret := &returns[i]
		if ret.Filed() {
			continue
		}
		if ret.DueDate.Before(now) {
			daysOverdue := int(now.Sub(ret.DueDate).Hours() / 24)
			severity := domain.SeverityMedium
			if daysOverdue > cfg.OverdueHighDays {
				severity = domain.SeverityHigh
			}
			alerts = append(alerts, domain.Alert{
				Type:     domain.AlertOverdueFiling,
				Severity: severity,
				Message:  fmt.Sprintf("%s return for jurisdiction %d is %d days overdue", ret.TaxType, ret.JurisdictionID, daysOverdue),
				ReturnID: ret.ID,
				Days:     daysOverdue,
			})
			continue
		}
		daysUntilDue := int(ret.DueDate.Sub(now).Hours() / 24)
		if daysUntilDue <= cfg.UpcomingDueDays {
			alerts = append(alerts, domain.Alert{
				Type:     domain.AlertUpcomingDueDate,
				Severity: domain.SeverityMedium,
				Message:  fmt.Sprintf("%s return for jurisdiction %d is due in %d days", ret.TaxType, ret.JurisdictionID, daysUntilDue),
				ReturnID: ret.ID,
				Days:     daysUntilDue,
			})
		}
	}
	if outstanding.IsPositive() {
		severity := domain.SeverityMedium
		if outstanding.GreaterThan(decimal.NewFromFloat(cfg.OutstandingBalanceAlertThreshold)) {
			severity = domain.SeverityHigh
		}
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertOutstandingBalance,
			Severity: severity,
			Message:  fmt.Sprintf("outstanding tax balance of %s", outstanding.StringFixed(2)),
			Amount:   outstanding,
		})
	}
	return alerts
}

// DetectSuspiciousActivity scans the audit trail for the three anomaly
// patterns: rapid changes, after-hours activity, and bulk deletions.
func (a *Analyzer) DetectSuspiciousActivity(ctx context.Context, lookbackDays int) ([]domain.Anomaly, error) {
	if lookbackDays <= 0 {
		return nil, domain.ErrInvalidLookback
	}
	cfg := a.engine.Get()
	since := a.clock.Now().AddDate(0, 0, -lookbackDays)

	var anomalies []domain.Anomaly

	rapid, err := a.detectRapidChanges(ctx, since, cfg)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, rapid...)

	afterHours, err := a.detectAfterHours(ctx, since, cfg)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, afterHours...)

	bulk, err := a.detectBulkDeletions(ctx, since, cfg)
	if err != nil {
		return nil, err
	}
	anomalies = append(anomalies, bulk...)

	if a.metrics != nil {
		for _, anomaly := range anomalies {
			a.metrics.RecordAnomaly(anomaly.Type, string(anomaly.Severity))
		}
	}
	return anomalies, nil
}

func (a *Analyzer) detectRapidChanges(ctx context.Context, since time.Time, cfg config.EngineConfig) ([]domain.Anomaly, error) {
	groups, err := a.repo.MutationGroups(ctx, since, cfg.RapidChangeCount)
	if err != nil {
		return nil, err
	}
	window := time.Duration(cfg.RapidChangeWindowMins) * time.Minute

	var anomalies []domain.Anomaly
	for _, group := range groups {
		if group.LastAt.Sub(group.FirstAt) >= window {
			continue
		}
		severity := domain.SeverityMedium
		if group.Count > cfg.RapidChangeHighCount {
			severity = domain.SeverityHigh
		}
		anomalies = append(anomalies, domain.Anomaly{
			Type: domain.AnomalyRapidChanges,
			Description: fmt.Sprintf("%d changes to %s %s within %s",
				group.Count, group.EntityType, group.EntityID, group.LastAt.Sub(group.FirstAt).Round(time.Minute)),
			UserID:      group.UserID,
			EntityType:  group.EntityType,
			EntityID:    group.EntityID,
			Count:       group.Count,
			Severity:    severity,
			WindowStart: group.FirstAt,
			WindowEnd:   group.LastAt,
		})
	}
	return anomalies, nil
}

func (a *Analyzer) detectAfterHours(ctx context.Context, since time.Time, cfg config.EngineConfig) ([]domain.Anomaly, error) {
	events, err := a.repo.ActorEvents(ctx, since)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, event := range events {
		hour := event.CreatedAt.UTC().Hour()
		if hour >= cfg.AfterHoursStartHour || hour <= cfg.AfterHoursEndHour {
			counts[event.UserID]++
		}
	}
	users := make([]string, 0, len(counts))
	for user := range counts {
		users = append(users, user)
	}
	sort.Strings(users)

	var anomalies []domain.Anomaly
	for _, user := range users {
		count := counts[user]
		if count <= cfg.AfterHoursCount {
			continue
		}
		anomalies = append(anomalies, domain.Anomaly{
			Type:        domain.AnomalyAfterHours,
			Description: fmt.Sprintf("%d actions outside business hours", count),
			UserID:      user,
			Count:       count,
			Severity:    domain.SeverityMedium,
		})
	}
	return anomalies, nil
}

func (a *Analyzer) detectBulkDeletions(ctx context.Context, since time.Time, cfg config.EngineConfig) ([]domain.Anomaly, error) {
	groups, err := a.repo.DeleteGroups(ctx, since, cfg.BulkDeleteCount)
	if err != nil {
		return nil, err
	}
	var anomalies []domain.Anomaly
	for _, group := range groups {
		anomalies = append(anomalies, domain.Anomaly{
			Type:        domain.AnomalyBulkDeletions,
			Description: fmt.Sprintf("%d deletions of %s records", group.Count, group.EntityType),
			UserID:      group.UserID,
			EntityType:  group.EntityType,
			Count:       group.Count,
			Severity:    domain.SeverityHigh,
		})
	}
	return anomalies, nil
}

func resolvePeriod(req domain.ReportRequest) (time.Time, time.Time, error) {
	if req.Year < 1970 || req.Year > 9999 {
		return time.Time{}, time.Time{}, domain.ErrInvalidPeriod
	}
	switch req.PeriodKind {
	case domain.PeriodAnnual:
		start := time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond), nil
	case domain.PeriodQuarterly:
		if req.PeriodIndex < 1 || req.PeriodIndex > 4 {
			return time.Time{}, time.Time{}, domain.ErrInvalidPeriod
		}
		start := time.Date(req.Year, time.Month((req.PeriodIndex-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, 0).Add(-time.Nanosecond), nil
	case domain.PeriodMonthly:
		if req.PeriodIndex < 1 || req.PeriodIndex > 12 {
			return time.Time{}, time.Time{}, domain.ErrInvalidPeriod
		}
		start := time.Date(req.Year, time.Month(req.PeriodIndex), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
	default:
		return time.Time{}, time.Time{}, domain.ErrInvalidPeriod
	}
}

// gradeStatus maps the rate pair onto a status. An overdue condition wins
// outright.
func gradeStatus(overdue bool, rate, timeliness decimal.Decimal, cfg config.EngineConfig) domain.Status {
	if overdue {
		return domain.StatusOverdue
	}
	if rate.GreaterThanOrEqual(decimal.NewFromFloat(cfg.CompliantRate)) &&
		timeliness.GreaterThanOrEqual(decimal.NewFromFloat(cfg.CompliantTimeliness)) {
		return domain.StatusCompliant
	}
	if rate.GreaterThanOrEqual(decimal.NewFromFloat(cfg.WarningRate)) &&
		timeliness.GreaterThanOrEqual(decimal.NewFromFloat(cfg.WarningTimeliness)) {
		return domain.StatusWarning
	}
	return domain.StatusNonCompliant
}

func complianceScore(filing domain.FilingCompliance, payment domain.PaymentCompliance) int {
	two := decimal.NewFromInt(2)
	filingHalf := filing.FilingRate.Add(filing.TimelinessRate).Div(two)
	paymentHalf := payment.PaymentRate.Add(payment.TimelinessRate).Div(two)
	score := filingHalf.Add(paymentHalf).Div(two).Round(0).IntPart()
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

func buildRecommendations(filing domain.FilingCompliance, payment domain.PaymentCompliance, cfg config.EngineConfig) []string {
	var recommendations []string
	if filing.Overdue > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("File the %d overdue return(s) immediately to stop penalty accrual", filing.Overdue))
	}
	if filing.FilingRate.LessThan(decimal.NewFromFloat(cfg.CompliantRate)) {
		recommendations = append(recommendations,
			"Increase the filing rate by scheduling return preparation ahead of due dates")
	}
	if filing.TimelinessRate.LessThan(decimal.NewFromFloat(cfg.CompliantTimeliness)) {
		recommendations = append(recommendations,
			"Improve filing timeliness by setting internal deadlines before statutory due dates")
	}
	if payment.OutstandingBalance.IsPositive() {
		recommendations = append(recommendations,
			fmt.Sprintf("Settle the outstanding balance of %s to avoid interest charges", payment.OutstandingBalance.StringFixed(2)))
	}
	if payment.TimelinessRate.LessThan(decimal.NewFromFloat(cfg.CompliantTimeliness)) {
		recommendations = append(recommendations,
			"Schedule payments ahead of due dates to improve payment timeliness")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"Maintain current compliance processes; all monitored metrics are within thresholds")
	}
	return recommendations
}

func rate(part, whole int) decimal.Decimal {
	if whole == 0 {
		return percentScale
	}
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(whole))).Mul(percentScale).Round(2)
}
