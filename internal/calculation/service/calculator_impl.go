package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/calculation/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var oneHundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Resolver     jurisdictiondomain.Resolver
	Registry     taxruledomain.Registry
	Certificates exemptiondomain.Service
	Validator    exemptiondomain.Validator
	Audit        auditdomain.Recorder
	Cache        *Cache           `optional:"true"`
	Metrics      *metrics.Metrics `optional:"true"`
}

type Calculator struct {
	log          *zap.Logger
	clock        clock.Clock
	resolver     jurisdictiondomain.Resolver
	registry     taxruledomain.Registry
	certificates exemptiondomain.Service
	validator    exemptiondomain.Validator
	audit        auditdomain.Recorder
	cache        *Cache
	metrics      *metrics.Metrics
}

func NewCalculator(p Params) domain.Calculator {
	return &Calculator{
		log:          p.Log.Named("calculation.service"),
		clock:        p.Clock,
		resolver:     p.Resolver,
		registry:     p.Registry,
		certificates: p.Certificates,
		validator:    p.Validator,
		audit:        p.Audit,
		cache:        p.Cache,
		metrics:      p.Metrics,
	}
}

// ApplyRate computes the tax a single rate yields for the amount. The result
// is rounded half-even to two places; thresholds gate and clamp the input,
// minimum_tax and maximum_tax clamp the output.
func (c *Calculator) ApplyRate(taxableAmount decimal.Decimal, rate *taxruledomain.TaxRate, transactionType string) decimal.Decimal {
	if rate == nil {
		return decimal.Zero
	}
	if !rate.AppliesTo(transactionType) {
		return decimal.Zero
	}
	// The minimum threshold must be strictly exceeded; an amount equal to
	// the threshold yields no tax.
	if rate.MinimumThreshold.Valid && taxableAmount.LessThanOrEqual(rate.MinimumThreshold.Decimal) {
		return decimal.Zero
	}
	if rate.MaximumThreshold.Valid && taxableAmount.GreaterThan(rate.MaximumThreshold.Decimal) {
		taxableAmount = rate.MaximumThreshold.Decimal
	}

	var tax decimal.Decimal
	switch rate.RateType {
	case taxruledomain.RateTypePercentage:
		tax = taxableAmount.Mul(rate.Rate).Div(oneHundred)
	case taxruledomain.RateTypeFlat:
		tax = rate.Rate
	case taxruledomain.RateTypeTiered:
		tax = applyTiers(taxableAmount, rate.Tiers)
	default:
		return decimal.Zero
	}

	if rate.MinimumTax.Valid && tax.LessThan(rate.MinimumTax.Decimal) {
		tax = rate.MinimumTax.Decimal
	}
	if rate.MaximumTax.Valid && tax.GreaterThan(rate.MaximumTax.Decimal) {
		tax = rate.MaximumTax.Decimal
	}
	return tax.RoundBank(2)
}

// applyTiers taxes each slice [tier.min, tier.max) at the tier's fractional
// rate until the amount is exhausted.
func applyTiers(amount decimal.Decimal, tiers []taxruledomain.RateTier) decimal.Decimal {
	tax := decimal.Zero
	for _, tier := range tiers {
		if amount.LessThanOrEqual(tier.Min) {
			break
		}
		upper := amount
		if tier.Max != nil && tier.Max.LessThan(upper) {
			upper = *tier.Max
		}
		portion := upper.Sub(tier.Min)
		if portion.IsPositive() {
			tax = tax.Add(portion.Mul(tier.Rate))
		}
	}
	return tax
}

func (c *Calculator) Calculate(ctx context.Context, req domain.CalculateRequest) (*domain.Calculation, error) {
	start := c.clock.Now()

	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	taxType, ok := taxruledomain.ParseTaxType(req.TaxType)
	if !ok {
		return nil, domain.ErrInvalidTaxType
	}
	addr := req.Address.Normalized()
	if addr.CountryCode == "" {
		return nil, domain.ErrInvalidAddress
	}
	forDate := req.ForDate
	if forDate.IsZero() {
		forDate = c.clock.Now()
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, req, forDate); ok {
			return cached, nil
		}
	}

	jurisdictions, err := c.resolver.Resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	if len(jurisdictions) == 0 {
		return nil, domain.ErrNoRuleFound
	}

	ids := make([]snowflake.ID, 0, len(jurisdictions))
	for _, j := range jurisdictions {
		ids = append(ids, j.ID)
	}
	rulesByJurisdiction, err := c.registry.RulesForJurisdictions(ctx, taxType, ids)
	if err != nil {
		return nil, err
	}

	cert := c.loadCertificate(ctx, req.ExemptionCertificate)

	result := &domain.Calculation{
		TaxableAmount:   req.Amount.RoundBank(2),
		TaxAmount:       decimal.Zero,
		TaxType:         string(taxType),
		TransactionType: req.TransactionType,
		ForDate:         forDate,
	}

	anyRule := false
	for _, jur := range jurisdictions {
		rules := rulesByJurisdiction[jur.ID]
		if len(rules) == 0 {
			continue
		}
		anyRule = true

		rule, rate := selectRule(rules, forDate)
		if rule == nil {
			continue
		}

		component := domain.Component{
			JurisdictionID:   jur.ID,
			JurisdictionCode: jur.Code,
			JurisdictionName: jur.Name,
			RuleCode:         rule.Code,
			RuleName:         rule.Name,
			RateType:         string(rate.RateType),
			Rate:             rate.Rate,
			Amount:           decimal.Zero,
		}

		if cert != nil {
			decision := c.validator.ValidateCertificate(cert, exemptiondomain.ValidationContext{
				TaxType:         string(taxType),
				RuleCode:        rule.Code,
				CountryCode:     addr.CountryCode,
				StateCode:       addr.StateCode,
				CityName:        addr.CityName,
				CustomerID:      req.CustomerID,
				TransactionDate: forDate,
			})
			if decision.Valid {
				component.Exempt = true
				result.IsExempt = true
				result.Exemption = cert
			}
		}

		if !component.Exempt {
			component.Amount = c.ApplyRate(result.TaxableAmount, rate, req.TransactionType)
			result.TaxAmount = result.TaxAmount.Add(component.Amount)
		}
		result.Components = append(result.Components, component)
	}

	if len(result.Components) == 0 {
		if anyRule {
			return nil, domain.ErrNoEffectiveRate
		}
		return nil, domain.ErrNoRuleFound
	}

	result.TotalAmount = result.TaxableAmount.Add(result.TaxAmount)
	if result.TaxableAmount.IsPositive() {
		result.RateUsed = result.TaxAmount.Div(result.TaxableAmount).Mul(oneHundred).Round(4)
	}

	// A calculation nobody can audit is not served.
	if err := c.recordAudit(ctx, req, result); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(ctx, req, forDate, result)
	}
	if c.metrics != nil {
		c.metrics.RecordCalculation(string(taxType), result.IsExempt, c.clock.Now().Sub(start))
	}

	return result, nil
}

// loadCertificate fetches the claimed certificate. A missing or unreadable
// certificate means the claim is simply not honored; the calculation
// continues non-exempt.
func (c *Calculator) loadCertificate(ctx context.Context, number string) *exemptiondomain.Certificate {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil
	}
	cert, err := c.certificates.GetCertificate(ctx, number)
	if err != nil {
		if !errors.Is(err, exemptiondomain.ErrNotFound) {
			c.log.Debug("exemption certificate lookup failed",
				zap.String("certificate_number", number), zap.Error(err))
		}
		return nil
	}
	return cert
}

// selectRule picks the jurisdiction's driving rule: the one whose effective
// rate has the most recent effective_from, ties broken by ascending rule
// code. Rules with no rate in effect are skipped.
func selectRule(rules []taxruledomain.TaxRule, forDate time.Time) (*taxruledomain.TaxRule, *taxruledomain.TaxRate) {
	type candidate struct {
		rule *taxruledomain.TaxRule
		rate *taxruledomain.TaxRate
	}
	var candidates []candidate
	for i := range rules {
		rate := rules[i].EffectiveRate(forDate)
		if rate == nil {
			continue
		}
		candidates = append(candidates, candidate{rule: &rules[i], rate: rate})
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.rate.EffectiveFrom.Equal(b.rate.EffectiveFrom) {
			return a.rate.EffectiveFrom.After(b.rate.EffectiveFrom)
		}
		return a.rule.Code < b.rule.Code
	})
	return candidates[0].rule, candidates[0].rate
}

func (c *Calculator) recordAudit(ctx context.Context, req domain.CalculateRequest, result *domain.Calculation) error {
	entityID := strings.ToUpper(req.Address.Normalized().CountryCode)
	if state := req.Address.Normalized().StateCode; state != "" {
		entityID += "-" + state
	}
	err := c.audit.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_calculation",
		EntityID:   entityID,
		Action:     auditdomain.ActionCalculate,
		NewValues: map[string]any{
			"taxable_amount": result.TaxableAmount.String(),
			"tax_amount":     result.TaxAmount.String(),
			"tax_type":       result.TaxType,
			"is_exempt":      result.IsExempt,
			"components":     len(result.Components),
		},
	})
	if err != nil {
		c.log.Warn("audit write failed for calculation", zap.Error(err))
	}
	return err
}
