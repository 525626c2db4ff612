package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/config"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// snapshot is one immutable view of the rule set. Readers load it atomically
// and never see partial updates; writers rebuild and swap.
type snapshot struct {
	rules          []*domain.TaxRule
	byCode         map[string]*domain.TaxRule
	byJurisdiction map[snowflake.ID][]*domain.TaxRule
}

func buildSnapshot(rules []domain.TaxRule) *snapshot {
	snap := &snapshot{
		rules:          make([]*domain.TaxRule, 0, len(rules)),
		byCode:         make(map[string]*domain.TaxRule, len(rules)),
		byJurisdiction: make(map[snowflake.ID][]*domain.TaxRule),
	}
	for i := range rules {
		rule := &rules[i]
		snap.rules = append(snap.rules, rule)
		if !rule.IsActive {
			// Logically deleted rules stay searchable but leave the
			// lookup index.
			continue
		}
		snap.byCode[strings.ToUpper(rule.Code)] = rule
		snap.byJurisdiction[rule.JurisdictionID] = append(snap.byJurisdiction[rule.JurisdictionID], rule)
	}
	return snap
}

type RegistryParams struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Repo          domain.Repository
	Jurisdictions jurisdictiondomain.Repository
	Audit         auditdomain.Recorder
	Ledger        domain.LedgerChecker `optional:"true"`
	Feed          *FeedClient          `optional:"true"`
}

type Registry struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	jurisdictions jurisdictiondomain.Repository
	audit         auditdomain.Recorder
	ledger        domain.LedgerChecker
	feed          *FeedClient

	cacheEnabled    bool
	refreshInterval time.Duration

	cache      atomic.Value // *snapshot
	feedFailed atomic.Bool

	refreshMu   sync.Mutex
	lastRefresh time.Time

	stop chan struct{}
}

func NewRegistry(lc fx.Lifecycle, p RegistryParams) domain.Registry {
	interval := time.Duration(p.Cfg.CacheRefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	r := &Registry{
		db:              p.DB,
		log:             p.Log.Named("taxrule.registry"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		jurisdictions:   p.Jurisdictions,
		audit:           p.Audit,
		ledger:          p.Ledger,
		feed:            p.Feed,
		cacheEnabled:    p.Cfg.CacheEnabled,
		refreshInterval: interval,
		stop:            make(chan struct{}),
	}
	r.cache.Store(buildSnapshot(nil))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !r.cacheEnabled {
				return nil
			}
			if err := r.reload(ctx); err != nil {
				r.log.Warn("initial rule cache load failed", zap.Error(err))
			}
			go r.refreshLoop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(r.stop)
			return nil
		},
	})

	return r
}

func (r *Registry) refreshLoop() {
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := r.RefreshFromExternal(ctx); err != nil {
				r.log.Warn("scheduled external refresh failed", zap.Error(err))
			}
			if err := r.reload(ctx); err != nil {
				r.log.Warn("rule cache reload failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// reload rebuilds the snapshot from the store.
func (r *Registry) reload(ctx context.Context) error {
	rules, err := r.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	r.cache.Store(buildSnapshot(rules))
	return nil
}

func (r *Registry) current() *snapshot {
	return r.cache.Load().(*snapshot)
}

// unavailable reports whether lookups cannot be served at all: no cached
// rules and the last external refresh failed on every source.
func (r *Registry) unavailable(snap *snapshot) bool {
	return r.cacheEnabled && len(snap.rules) == 0 && r.feedFailed.Load()
}

func (r *Registry) GetRule(ctx context.Context, code string) (*domain.TaxRule, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	if r.cacheEnabled {
		snap := r.current()
		if r.unavailable(snap) {
			return nil, domain.ErrRegistryUnavailable
		}
		return snap.byCode[code], nil
	}

	rule, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rule == nil || !rule.IsActive {
		return nil, nil
	}
	return rule, nil
}

func (r *Registry) SearchRules(ctx context.Context, req domain.SearchRequest) ([]domain.TaxRule, error) {
	filter := domain.SearchFilter{
		CountryCode: strings.TrimSpace(req.CountryCode),
		StateCode:   strings.TrimSpace(req.StateCode),
		CityName:    strings.TrimSpace(req.CityName),
		Category:    strings.TrimSpace(req.Category),
		IsActive:    req.IsActive,
		Tags:        req.Tags,
	}
	if raw := strings.TrimSpace(req.TaxType); raw != "" {
		taxType, ok := domain.ParseTaxType(raw)
		if !ok {
			return nil, domain.ErrInvalidTaxType
		}
		filter.TaxType = taxType
	}

	if !r.cacheEnabled {
		rules, err := r.repo.Search(ctx, filter)
		if err != nil {
			return nil, err
		}
		return filterTags(rules, filter.Tags), nil
	}

	snap := r.current()
	if r.unavailable(snap) {
		return nil, domain.ErrRegistryUnavailable
	}

	matched := make([]domain.TaxRule, 0)
	for _, rule := range snap.rules {
		if ruleMatches(rule, filter) {
			matched = append(matched, *rule)
		}
	}
	return matched, nil
}

func ruleMatches(rule *domain.TaxRule, filter domain.SearchFilter) bool {
	if filter.TaxType != "" && rule.TaxType != filter.TaxType {
		return false
	}
	if filter.IsActive != nil && rule.IsActive != *filter.IsActive {
		return false
	}
	if filter.Category != "" {
		if rule.Category == nil || !strings.EqualFold(*rule.Category, filter.Category) {
			return false
		}
	}
	if filter.CountryCode != "" || filter.StateCode != "" || filter.CityName != "" {
		j := rule.Jurisdiction
		if j == nil {
			return false
		}
		if filter.CountryCode != "" && !strings.EqualFold(j.CountryCode, filter.CountryCode) {
			return false
		}
		if filter.StateCode != "" && !strings.EqualFold(j.StateCode, filter.StateCode) {
			return false
		}
		if filter.CityName != "" && !strings.EqualFold(j.CityName, filter.CityName) {
			return false
		}
	}
	return rule.HasTag(filter.Tags)
}

func filterTags(rules []domain.TaxRule, tags []string) []domain.TaxRule {
	if len(tags) == 0 {
		return rules
	}
	matched := make([]domain.TaxRule, 0, len(rules))
	for i := range rules {
		if rules[i].HasTag(tags) {
			matched = append(matched, rules[i])
		}
	}
	return matched
}

func (r *Registry) GetEffectiveRate(ctx context.Context, code string, asOf time.Time) (*domain.TaxRate, error) {
	rule, err := r.GetRule(ctx, code)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrNotFound
	}
	return rule.EffectiveRate(asOf), nil
}

func (r *Registry) RulesForJurisdictions(ctx context.Context, taxType domain.TaxType, jurisdictionIDs []snowflake.ID) (map[snowflake.ID][]domain.TaxRule, error) {
	if !taxType.Valid() {
		return nil, domain.ErrInvalidTaxType
	}

	result := make(map[snowflake.ID][]domain.TaxRule, len(jurisdictionIDs))

	if r.cacheEnabled {
		snap := r.current()
		if r.unavailable(snap) {
			return nil, domain.ErrRegistryUnavailable
		}
		for _, id := range jurisdictionIDs {
			for _, rule := range snap.byJurisdiction[id] {
				if rule.TaxType != taxType {
					continue
				}
				result[id] = append(result[id], *rule)
			}
		}
		return result, nil
	}

	active := true
	rules, err := r.repo.Search(ctx, domain.SearchFilter{TaxType: taxType, IsActive: &active})
	if err != nil {
		return nil, err
	}
	wanted := make(map[snowflake.ID]bool, len(jurisdictionIDs))
	for _, id := range jurisdictionIDs {
		wanted[id] = true
	}
	for i := range rules {
		if wanted[rules[i].JurisdictionID] {
			result[rules[i].JurisdictionID] = append(result[rules[i].JurisdictionID], rules[i])
		}
	}
	return result, nil
}

func (r *Registry) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.TaxRule, error) {
	jurisdiction, err := r.jurisdictions.FindByCode(ctx, req.JurisdictionCode)
	if err != nil {
		return nil, err
	}
	if jurisdiction == nil {
		return nil, domain.ErrInvalidJurisdiction
	}

	now := r.clock.Now()
	rule := &domain.TaxRule{
		ID:              r.genID.Generate(),
		Code:            strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		TaxType:         req.TaxType,
		JurisdictionID:  jurisdiction.ID,
		Jurisdiction:    jurisdiction,
		Category:        req.Category,
		IsActive:        true,
		RequiresTaxID:   req.RequiresTaxID,
		TaxIDFormat:     req.TaxIDFormat,
		ValidationRegex: req.ValidationRegex,
		Tags:            req.Tags,
		Metadata:        req.Metadata,
		Rates:           r.buildRates(req.Rates, now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	// The rule and its audit entry commit together; an unauditable write
	// must not become observable.
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.repo.Create(ctx, tx, rule); err != nil {
			return err
		}
		return r.audit.Record(ctx, tx, auditdomain.Record{
			EntityType: "tax_rule",
			EntityID:   rule.Code,
			Action:     auditdomain.ActionCreate,
			NewValues: map[string]any{
				"code":              rule.Code,
				"name":              rule.Name,
				"tax_type":          string(rule.TaxType),
				"jurisdiction_code": jurisdiction.Code,
				"rate_count":        len(rule.Rates),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	r.reloadAfterWrite(ctx)
	return rule, nil
}

func (r *Registry) UpdateRule(ctx context.Context, req domain.UpdateRuleRequest) (*domain.TaxRule, error) {
	rule, err := r.repo.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrNotFound
	}

	old := map[string]any{
		"name":      rule.Name,
		"is_active": rule.IsActive,
		"category":  derefString(rule.Category),
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		rule.Name = name
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		rule.Category = req.Category
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Tags != nil {
		rule.Tags = req.Tags
	}
	if req.Metadata != nil {
		rule.Metadata = req.Metadata
	}

	now := r.clock.Now()
	if req.Rates != nil {
		rule.Rates = r.buildRates(req.Rates, now)
	}
	rule.UpdatedAt = now

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.repo.Update(ctx, tx, rule); err != nil {
			return err
		}
		if req.Rates != nil {
			if err := r.repo.ReplaceRates(ctx, tx, rule.ID, rule.Rates); err != nil {
				return err
			}
		}
		return r.audit.Record(ctx, tx, auditdomain.Record{
			EntityType: "tax_rule",
			EntityID:   rule.Code,
			Action:     auditdomain.ActionUpdate,
			OldValues:  old,
			NewValues: map[string]any{
				"name":      rule.Name,
				"is_active": rule.IsActive,
				"category":  derefString(rule.Category),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	r.reloadAfterWrite(ctx)
	return rule, nil
}

// DeleteRule is a logical removal: the rule is flagged inactive and drops
// out of the lookup index; the row stays for history.
func (r *Registry) DeleteRule(ctx context.Context, code string) error {
	rule, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		return err
	}
	if rule == nil {
		return domain.ErrNotFound
	}

	if r.ledger != nil {
		inUse, err := r.ledger.RuleHasPostedTransactions(ctx, rule.ID)
		if err != nil {
			return err
		}
		if inUse {
			return domain.ErrRuleInUse
		}
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.repo.SetActive(ctx, tx, rule.ID, false); err != nil {
			return err
		}
		return r.audit.Record(ctx, tx, auditdomain.Record{
			EntityType: "tax_rule",
			EntityID:   rule.Code,
			Action:     auditdomain.ActionDelete,
			OldValues:  map[string]any{"is_active": true},
			NewValues:  map[string]any{"is_active": false},
		})
	})
	if err != nil {
		return err
	}

	r.reloadAfterWrite(ctx)
	return nil
}

func (r *Registry) reloadAfterWrite(ctx context.Context) {
	if !r.cacheEnabled {
		return
	}
	if err := r.reload(ctx); err != nil {
		r.log.Warn("rule cache reload after write failed", zap.Error(err))
	}
}

func (r *Registry) buildRates(inputs []domain.RateInput, now time.Time) []domain.TaxRate {
	rates := make([]domain.TaxRate, 0, len(inputs))
	for _, in := range inputs {
		standard := true
		if in.IsStandardRate != nil {
			standard = *in.IsStandardRate
		}
		rates = append(rates, domain.TaxRate{
			ID:                         r.genID.Generate(),
			Rate:                       in.Rate,
			RateType:                   in.RateType,
			EffectiveFrom:              in.EffectiveFrom.UTC(),
			EffectiveTo:                normalizeTime(in.EffectiveTo),
			IsStandardRate:             standard,
			Description:                strings.TrimSpace(in.Description),
			MinimumThreshold:           in.MinimumThreshold,
			MaximumThreshold:           in.MaximumThreshold,
			MinimumTax:                 in.MinimumTax,
			MaximumTax:                 in.MaximumTax,
			ApplicableTransactionTypes: in.ApplicableTransactionTypes,
			Tiers:                      in.Tiers,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		})
	}
	return rates
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
