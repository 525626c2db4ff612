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
	"github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/paksafinancial/taxengine/internal/jurisdiction/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAudit struct{}

func (noopAudit) Record(context.Context, *gorm.DB, auditdomain.Record) error { return nil }

type failingAudit struct{}

func (failingAudit) Record(context.Context, *gorm.DB, auditdomain.Record) error {
	return errors.New("audit trail unavailable")
}

func newTestService(t *testing.T) (*Service, domain.Repository) {
	return newTestServiceWithAudit(t, noopAudit{})
}

func newTestServiceWithAudit(t *testing.T, audit auditdomain.Recorder) (*Service, domain.Repository) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&domain.Jurisdiction{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	repo := repository.NewRepository(gdb)
	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repo,
		Audit: audit,
	})
	return svc.(*Service), repo
}

func seedUSTree(t *testing.T, svc *Service) map[string]*domain.Jurisdiction {
	t.Helper()
	ctx := context.Background()
	created := make(map[string]*domain.Jurisdiction)

	us, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US", Name: "United States", Level: domain.LevelFederal, CountryCode: "US",
	})
	require.NoError(t, err)
	created["US"] = us

	ca, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US-CA", Name: "California", Level: domain.LevelState,
		CountryCode: "US", StateCode: "CA", ParentCode: "US",
	})
	require.NoError(t, err)
	created["US-CA"] = ca

	county, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US-CA-LA_COUNTY", Name: "Los Angeles County", Level: domain.LevelCounty,
		CountryCode: "US", StateCode: "CA", CountyName: "Los Angeles", ParentCode: "US-CA",
	})
	require.NoError(t, err)
	created["US-CA-LA_COUNTY"] = county

	city, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US-CA-LOS_ANGELES", Name: "Los Angeles", Level: domain.LevelCity,
		CountryCode: "US", StateCode: "CA", CountyName: "Los Angeles", CityName: "Los Angeles",
		ParentCode: "US-CA-LA_COUNTY",
	})
	require.NoError(t, err)
	created["US-CA-LOS_ANGELES"] = city

	district, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US-CA-TRANSIT", Name: "CA Transit District", Level: domain.LevelDistrict,
		CountryCode: "US", StateCode: "CA", ParentCode: "US-CA",
	})
	require.NoError(t, err)
	created["US-CA-TRANSIT"] = district

	return created
}

func TestResolve_FullChainOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	got, err := svc.Resolve(context.Background(), domain.Address{
		CountryCode: "US", StateCode: "CA", CountyName: "Los Angeles", CityName: "Los Angeles",
	})
	require.NoError(t, err)

	codes := make([]string, 0, len(got))
	for _, j := range got {
		codes = append(codes, j.Code)
	}
	assert.Equal(t, []string{"US", "US-CA", "US-CA-LA_COUNTY", "US-CA-LOS_ANGELES", "US-CA-TRANSIT"}, codes)
}

func TestResolve_CountryOnlyOmitsLowerLevels(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	got, err := svc.Resolve(context.Background(), domain.Address{CountryCode: "US"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "US", got[0].Code)
}

func TestResolve_SkipsUnknownLevels(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	// No county record matches; county is omitted, city still resolves.
	got, err := svc.Resolve(context.Background(), domain.Address{
		CountryCode: "US", StateCode: "CA", CountyName: "Orange", CityName: "Los Angeles",
	})
	require.NoError(t, err)

	codes := make([]string, 0, len(got))
	for _, j := range got {
		codes = append(codes, j.Code)
	}
	assert.Equal(t, []string{"US", "US-CA", "US-CA-LOS_ANGELES", "US-CA-TRANSIT"}, codes)
}

func TestResolve_MatchingIsCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	got, err := svc.Resolve(context.Background(), domain.Address{
		CountryCode: "us", StateCode: "ca", CityName: "los angeles",
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "US", got[0].Code)
}

func TestResolve_NeverSynthesizes(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	got, err := svc.Resolve(context.Background(), domain.Address{CountryCode: "FR", StateCode: "IDF"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_InactiveDistrictsExcluded(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	_, err := svc.Deactivate(context.Background(), "US-CA-TRANSIT")
	require.NoError(t, err)

	got, err := svc.Resolve(context.Background(), domain.Address{CountryCode: "US", StateCode: "CA"})
	require.NoError(t, err)

	for _, j := range got {
		assert.NotEqual(t, "US-CA-TRANSIT", j.Code)
	}
}

func TestCreate_ParentLevelEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	// A city cannot hang off the federal node.
	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code: "US-XX-CITY", Name: "Nowhere", Level: domain.LevelCity,
		CountryCode: "US", StateCode: "XX", ParentCode: "US",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
}

func TestCreate_DuplicateCode(t *testing.T) {
	svc, _ := newTestService(t)
	seedUSTree(t, svc)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code: "US-CA", Name: "California Again", Level: domain.LevelState,
		CountryCode: "US", StateCode: "CA", ParentCode: "US",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func TestCreate_NonFederalRequiresParent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		Code: "US-NY", Name: "New York", Level: domain.LevelState,
		CountryCode: "US", StateCode: "NY",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
}

func TestCreate_RollsBackWhenAuditWriteFails(t *testing.T) {
	svc, repo := newTestServiceWithAudit(t, failingAudit{})
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{
		Code: "US", Name: "United States", Level: domain.LevelFederal, CountryCode: "US",
	})
	require.Error(t, err)

	// The jurisdiction must not be observable without its trail entry.
	got, err := repo.FindByCode(ctx, "US")
	require.NoError(t, err)
	assert.Nil(t, got)
}
