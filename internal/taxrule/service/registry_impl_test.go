package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/config"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	jurisdictionrepository "github.com/paksafinancial/taxengine/internal/jurisdiction/repository"
	"github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/paksafinancial/taxengine/internal/taxrule/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) Record(context.Context, *gorm.DB, auditdomain.Record) error { return nil }

// failingAudit rejects writes while fail is set, letting a test break the
// trail mid-scenario.
type failingAudit struct {
	fail  bool
	calls int
}

func (f *failingAudit) Record(context.Context, *gorm.DB, auditdomain.Record) error {
	f.calls++
	if f.fail {
		return errors.New("audit trail unavailable")
	}
	return nil
}

type stubLedger struct {
	ruleInUse bool
}

func (s *stubLedger) RuleHasPostedTransactions(context.Context, snowflake.ID) (bool, error) {
	return s.ruleInUse, nil
}

type registryFixture struct {
	registry domain.Registry
	ledger   *stubLedger
	clock    *clock.FakeClock
}

func newTestRegistry(t *testing.T, cacheEnabled bool) *registryFixture {
	return newTestRegistryWithAudit(t, cacheEnabled, noopAudit{})
}

func newTestRegistryWithAudit(t *testing.T, cacheEnabled bool, audit auditdomain.Recorder) *registryFixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&jurisdictiondomain.Jurisdiction{},
		&domain.TaxRule{},
		&domain.TaxRate{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	jrepo := jurisdictionrepository.NewRepository(gdb)
	seedJurisdictions(t, jrepo, node)

	ledger := &stubLedger{}
	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	lc := fxtest.NewLifecycle(t)
	registry := NewRegistry(lc, RegistryParams{
		DB:            gdb,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fake,
		Cfg:           config.Config{CacheEnabled: cacheEnabled, CacheRefreshIntervalSeconds: 3600},
		Repo:          repository.NewRepository(gdb),
		Jurisdictions: jrepo,
		Audit:         audit,
		Ledger:        ledger,
	})
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	return &registryFixture{registry: registry, ledger: ledger, clock: fake}
}

func seedJurisdictions(t *testing.T, repo jurisdictiondomain.Repository, node *snowflake.Node) {
	t.Helper()
	ctx := context.Background()

	us := &jurisdictiondomain.Jurisdiction{
		ID: node.Generate(), Code: "US", Name: "United States",
		Level: jurisdictiondomain.LevelFederal, CountryCode: "US", IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, nil, us))

	ca := &jurisdictiondomain.Jurisdiction{
		ID: node.Generate(), ParentID: &us.ID, Code: "US-CA", Name: "California",
		Level: jurisdictiondomain.LevelState, CountryCode: "US", StateCode: "CA", IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, nil, ca))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func salesRuleRequest(code string) domain.CreateRuleRequest {
	return domain.CreateRuleRequest{
		Code:             code,
		Name:             "California Sales Tax",
		TaxType:          domain.TaxTypeSales,
		JurisdictionCode: "US-CA",
		Tags:             []string{"retail"},
		Rates: []domain.RateInput{{
			Rate:          decimal.RequireFromString("7.25"),
			RateType:      domain.RateTypePercentage,
			EffectiveFrom: date(2024, 1, 1),
		}},
	}
}

func TestCreateRule_RoundTrip(t *testing.T) {
	for _, cached := range []bool{true, false} {
		fixture := newTestRegistry(t, cached)
		ctx := context.Background()

		created, err := fixture.registry.CreateRule(ctx, salesRuleRequest("us-ca-sales"))
		require.NoError(t, err)
		assert.Equal(t, "US-CA-SALES", created.Code)
		assert.True(t, created.IsActive)

		got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created.ID, got.ID)
		require.Len(t, got.Rates, 1)
		assert.True(t, decimal.RequireFromString("7.25").Equal(got.Rates[0].Rate))
	}
}

func TestGetRule_LookupIsCaseInsensitive(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	got, err := fixture.registry.GetRule(ctx, "us-ca-sales")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCreateRule_DuplicateCode(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	_, err = fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func TestCreateRule_UnknownJurisdiction(t *testing.T) {
	fixture := newTestRegistry(t, true)

	req := salesRuleRequest("US-TX-SALES")
	req.JurisdictionCode = "US-TX"
	_, err := fixture.registry.CreateRule(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidJurisdiction)
}

func TestGetEffectiveRate_WindowBoundariesInclusive(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	to := date(2024, 12, 31)
	req := salesRuleRequest("US-CA-SALES")
	req.Rates = []domain.RateInput{{
		Rate:          decimal.RequireFromString("7.25"),
		RateType:      domain.RateTypePercentage,
		EffectiveFrom: date(2024, 1, 1),
		EffectiveTo:   &to,
	}}
	_, err := fixture.registry.CreateRule(ctx, req)
	require.NoError(t, err)

	rate, err := fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2024, 1, 1))
	require.NoError(t, err)
	require.NotNil(t, rate)

	rate, err = fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2024, 12, 31))
	require.NoError(t, err)
	require.NotNil(t, rate)

	rate, err = fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2025, 1, 1))
	require.NoError(t, err)
	assert.Nil(t, rate)

	rate, err = fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2023, 12, 31))
	require.NoError(t, err)
	assert.Nil(t, rate)
}

func TestGetEffectiveRate_MostRecentEffectiveFromWins(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	req := salesRuleRequest("US-CA-SALES")
	req.Rates = []domain.RateInput{
		{
			Rate:          decimal.RequireFromString("7.25"),
			RateType:      domain.RateTypePercentage,
			EffectiveFrom: date(2023, 1, 1),
		},
		{
			Rate:          decimal.RequireFromString("7.75"),
			RateType:      domain.RateTypePercentage,
			EffectiveFrom: date(2024, 4, 1),
		},
	}
	_, err := fixture.registry.CreateRule(ctx, req)
	require.NoError(t, err)

	rate, err := fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2024, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("7.75").Equal(rate.Rate))

	rate, err = fixture.registry.GetEffectiveRate(ctx, "US-CA-SALES", date(2024, 3, 31))
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.True(t, decimal.RequireFromString("7.25").Equal(rate.Rate))
}

func TestGetEffectiveRate_UnknownRule(t *testing.T) {
	fixture := newTestRegistry(t, true)

	_, err := fixture.registry.GetEffectiveRate(context.Background(), "NO-SUCH-RULE", date(2024, 6, 1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchRules_Filters(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	vat := salesRuleRequest("US-CA-VAT")
	vat.Name = "California VAT"
	vat.TaxType = domain.TaxTypeVAT
	vat.Tags = []string{"imports"}
	_, err = fixture.registry.CreateRule(ctx, vat)
	require.NoError(t, err)

	byType, err := fixture.registry.SearchRules(ctx, domain.SearchRequest{TaxType: "sales"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "US-CA-SALES", byType[0].Code)

	byTag, err := fixture.registry.SearchRules(ctx, domain.SearchRequest{Tags: []string{"imports"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "US-CA-VAT", byTag[0].Code)

	byState, err := fixture.registry.SearchRules(ctx, domain.SearchRequest{CountryCode: "US", StateCode: "CA"})
	require.NoError(t, err)
	assert.Len(t, byState, 2)

	_, err = fixture.registry.SearchRules(ctx, domain.SearchRequest{TaxType: "tithe"})
	assert.ErrorIs(t, err, domain.ErrInvalidTaxType)
}

func TestUpdateRule_ReplacesRates(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	name := "California Sales and Use Tax"
	updated, err := fixture.registry.UpdateRule(ctx, domain.UpdateRuleRequest{
		Code: "US-CA-SALES",
		Name: &name,
		Rates: []domain.RateInput{{
			Rate:          decimal.RequireFromString("8.00"),
			RateType:      domain.RateTypePercentage,
			EffectiveFrom: date(2024, 7, 1),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Rates, 1)
	assert.True(t, decimal.RequireFromString("8.00").Equal(got.Rates[0].Rate))
}

func TestUpdateRule_UnknownCode(t *testing.T) {
	fixture := newTestRegistry(t, true)

	name := "Renamed"
	_, err := fixture.registry.UpdateRule(context.Background(), domain.UpdateRuleRequest{Code: "NO-SUCH-RULE", Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRule_LogicalRemoval(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)
	require.NoError(t, fixture.registry.DeleteRule(ctx, "US-CA-SALES"))

	// Gone from lookups.
	got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Still visible to history queries.
	inactive := false
	rules, err := fixture.registry.SearchRules(ctx, domain.SearchRequest{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "US-CA-SALES", rules[0].Code)
}

func TestDeleteRule_RefusedWhenPostedTransactionsExist(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	fixture.ledger.ruleInUse = true
	err = fixture.registry.DeleteRule(ctx, "US-CA-SALES")
	assert.ErrorIs(t, err, domain.ErrRuleInUse)

	got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive)
}

func TestRulesForJurisdictions_GroupsByJurisdiction(t *testing.T) {
	fixture := newTestRegistry(t, true)
	ctx := context.Background()

	federal := salesRuleRequest("US-SALES")
	federal.JurisdictionCode = "US"
	created, err := fixture.registry.CreateRule(ctx, federal)
	require.NoError(t, err)

	state, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	grouped, err := fixture.registry.RulesForJurisdictions(ctx, domain.TaxTypeSales,
		[]snowflake.ID{created.JurisdictionID, state.JurisdictionID})
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Equal(t, "US-SALES", grouped[created.JurisdictionID][0].Code)
	assert.Equal(t, "US-CA-SALES", grouped[state.JurisdictionID][0].Code)

	_, err = fixture.registry.RulesForJurisdictions(ctx, domain.TaxType("bogus"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTaxType)
}

func TestCreateRule_RollsBackWhenAuditWriteFails(t *testing.T) {
	audit := &failingAudit{fail: true}
	fixture := newTestRegistryWithAudit(t, false, audit)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.Error(t, err)
	require.Equal(t, 1, audit.calls)

	// The rule must not be observable without its trail entry.
	got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteRule_RollsBackWhenAuditWriteFails(t *testing.T) {
	audit := &failingAudit{}
	fixture := newTestRegistryWithAudit(t, false, audit)
	ctx := context.Background()

	_, err := fixture.registry.CreateRule(ctx, salesRuleRequest("US-CA-SALES"))
	require.NoError(t, err)

	audit.fail = true
	require.Error(t, fixture.registry.DeleteRule(ctx, "US-CA-SALES"))

	// The failed delete must leave the rule active.
	got, err := fixture.registry.GetRule(ctx, "US-CA-SALES")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive)
}

func TestCreateRule_InvalidRate(t *testing.T) {
	fixture := newTestRegistry(t, true)

	req := salesRuleRequest("US-CA-SALES")
	req.Rates[0].Rate = decimal.RequireFromString("-1")
	_, err := fixture.registry.CreateRule(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)
}
