package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	"github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxFeedBodyBytes = 4 << 20

// FeedPayload is the wire format served by external rate sources.
type FeedPayload struct {
	Rules []FeedRule `json:"rules"`
}

type FeedRule struct {
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	TaxType          string          `json:"tax_type"`
	JurisdictionCode string          `json:"jurisdiction_code"`
	Rates            []FeedRateInput `json:"rates"`
}

type FeedRateInput struct {
	Rate          json.Number `json:"rate"`
	RateType      string      `json:"rate_type"`
	EffectiveFrom string      `json:"effective_from"`
	EffectiveTo   *string     `json:"effective_to,omitempty"`
}

type FeedParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// FeedClient fetches rate data from configured sources. Each fetch is
// bounded by its own timeout; a slow or dead source never blocks
// calculations.
type FeedClient struct {
	sources []string
	timeout time.Duration
	client  *retryablehttp.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewFeedClient(p FeedParams) *FeedClient {
	timeout := time.Duration(p.Cfg.RateSourceTimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &FeedClient{
		sources: p.Cfg.ExternalRateSources,
		timeout: timeout,
		client:  client,
		log:     p.Log.Named("taxrule.feed"),
		metrics: p.Metrics,
	}
}

func (f *FeedClient) Sources() []string { return f.sources }

func (f *FeedClient) Fetch(ctx context.Context, source string) (*FeedPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return nil, err
	}

	var payload FeedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (f *FeedClient) recordOutcome(source, status string) {
	if f.metrics != nil {
		f.metrics.RecordRateFeedRefresh(source, status)
	}
}

// RefreshFromExternal fetches all configured sources and folds their rules
// into the registry. Runs at most once per refresh interval. Source failures
// are logged and never invalidate cached rules; only when the cache is empty
// and every source failed do lookups start returning ErrRegistryUnavailable.
func (r *Registry) RefreshFromExternal(ctx context.Context) error {
	if r.feed == nil || len(r.feed.Sources()) == 0 {
		return nil
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	now := r.clock.Now()
	if !r.lastRefresh.IsZero() && now.Sub(r.lastRefresh) < r.refreshInterval {
		return nil
	}
	r.lastRefresh = now

	failures := 0
	for _, source := range r.feed.Sources() {
		payload, err := r.feed.Fetch(ctx, source)
		if err != nil {
			failures++
			r.feed.recordOutcome(source, "error")
			r.log.Warn("rate source fetch failed", zap.String("source", source), zap.Error(err))
			continue
		}
		r.feed.recordOutcome(source, "ok")
		r.foldFeed(ctx, source, payload)
	}

	allFailed := failures == len(r.feed.Sources())
	r.feedFailed.Store(allFailed)

	if r.cacheEnabled {
		if err := r.reload(ctx); err != nil {
			r.log.Warn("rule cache reload after refresh failed", zap.Error(err))
		}
	}
	return nil
}

// foldFeed upserts feed rules. Unknown jurisdictions and malformed entries
// are skipped with a log line; a partially bad payload still contributes its
// good rows.
func (r *Registry) foldFeed(ctx context.Context, source string, payload *FeedPayload) {
	for _, feedRule := range payload.Rules {
		code := strings.ToUpper(strings.TrimSpace(feedRule.Code))
		if code == "" {
			continue
		}
		rates, err := convertFeedRates(feedRule.Rates)
		if err != nil {
			r.log.Warn("skipping feed rule with bad rates",
				zap.String("source", source), zap.String("code", code), zap.Error(err))
			continue
		}

		existing, err := r.repo.FindByCode(ctx, code)
		if err != nil {
			r.log.Warn("feed fold lookup failed", zap.String("code", code), zap.Error(err))
			continue
		}

		if existing != nil {
			built := r.buildRates(rates, r.clock.Now())
			probe := *existing
			probe.Rates = built
			if err := probe.Validate(); err != nil {
				r.log.Warn("skipping feed update violating rule invariants",
					zap.String("code", code), zap.Error(err))
				continue
			}
			err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := r.repo.ReplaceRates(ctx, tx, existing.ID, built); err != nil {
					return err
				}
				return r.audit.Record(ctx, tx, auditdomain.Record{
					EntityType: "tax_rule",
					EntityID:   code,
					Action:     auditdomain.ActionUpdate,
					NewValues:  map[string]any{"source": source, "rate_count": len(built)},
					Notes:      "external rate feed refresh",
				})
			})
			if err != nil {
				r.log.Warn("feed rate replace failed", zap.String("code", code), zap.Error(err))
			}
			continue
		}

		taxType, ok := domain.ParseTaxType(feedRule.TaxType)
		if !ok {
			r.log.Warn("skipping feed rule with unknown tax type",
				zap.String("code", code), zap.String("tax_type", feedRule.TaxType))
			continue
		}
		if _, err := r.CreateRule(ctx, domain.CreateRuleRequest{
			Code:             code,
			Name:             strings.TrimSpace(feedRule.Name),
			TaxType:          taxType,
			JurisdictionCode: feedRule.JurisdictionCode,
			Rates:            rates,
		}); err != nil {
			r.log.Warn("feed rule create failed", zap.String("code", code), zap.Error(err))
		}
	}
}

func convertFeedRates(inputs []FeedRateInput) ([]domain.RateInput, error) {
	rates := make([]domain.RateInput, 0, len(inputs))
	for _, in := range inputs {
		rate, err := decimalFromNumber(in.Rate)
		if err != nil {
			return nil, err
		}
		from, err := time.Parse("2006-01-02", strings.TrimSpace(in.EffectiveFrom))
		if err != nil {
			return nil, err
		}
		var to *time.Time
		if in.EffectiveTo != nil {
			parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*in.EffectiveTo))
			if err != nil {
				return nil, err
			}
			to = &parsed
		}
		rateType := domain.RateType(strings.ToLower(strings.TrimSpace(in.RateType)))
		if !rateType.Valid() {
			return nil, fmt.Errorf("unknown rate type %q", in.RateType)
		}
		rates = append(rates, domain.RateInput{
			Rate:          rate,
			RateType:      rateType,
			EffectiveFrom: from,
			EffectiveTo:   to,
		})
	}
	return rates, nil
}

func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	value := strings.TrimSpace(n.String())
	if value == "" {
		return decimal.Zero, fmt.Errorf("empty rate")
	}
	return decimal.NewFromString(value)
}
