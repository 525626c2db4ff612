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
	"github.com/paksafinancial/taxengine/internal/exemption/domain"
	"github.com/paksafinancial/taxengine/internal/exemption/repository"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAudit struct {
	records []auditdomain.Record
}

func (r *recordingAudit) Record(_ context.Context, _ *gorm.DB, rec auditdomain.Record) error {
	r.records = append(r.records, rec)
	return nil
}

type stubLedger struct {
	inUse bool
}

func (s *stubLedger) CertificateHasPostedTransactions(context.Context, snowflake.ID) (bool, error) {
	return s.inUse, nil
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, *gorm.DB, auditdomain.Record) error {
	return errors.New("audit trail unavailable")
}

func newTestService(t *testing.T) (*Service, *recordingAudit, *clock.FakeClock) {
	t.Helper()

	audit := &recordingAudit{}
	svc, clk := newTestServiceWithAudit(t, audit)
	return svc, audit, clk
}

func newTestServiceWithAudit(t *testing.T, audit auditdomain.Recorder) (*Service, *clock.FakeClock) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&domain.Certificate{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.NewRepository(gdb),
		Audit: audit,
	})
	return svc.(*Service), clk
}

func testCtx() context.Context {
	return tenantctx.WithCompanyID(context.Background(), snowflake.ID(42))
}

func createCert(t *testing.T, svc *Service, req domain.CreateCertificateRequest) *domain.Certificate {
	t.Helper()
	if req.CustomerID == "" {
		req.CustomerID = "900100"
	}
	if req.ExemptionType == "" {
		req.ExemptionType = "RESALE"
	}
	if req.IssueDate.IsZero() {
		req.IssueDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	cert, err := svc.CreateCertificate(testCtx(), req)
	require.NoError(t, err)
	return cert
}

func TestValidate_ValidCertificate(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-001",
		TaxCodes:          []string{"US-CA-SALES"},
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-001", domain.ValidationContext{
		RuleCode:        "US-CA-SALES",
		CountryCode:     "US",
		StateCode:       "CA",
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, decision.Valid)
	assert.Empty(t, decision.Reason)
	require.NotNil(t, decision.Certificate)
	assert.Equal(t, "EX-2024-001", decision.Certificate.CertificateNumber)
}

func TestValidate_ExpiredCertificate(t *testing.T) {
	svc, _, _ := newTestService(t)

	expiry := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-002",
		ExpiryDate:        &expiry,
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-002", domain.ValidationContext{
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, decision.Valid)
	assert.Equal(t, domain.ReasonExpired, decision.Reason)
}

func TestValidate_ExpiryDateIsInclusive(t *testing.T) {
	svc, _, _ := newTestService(t)

	expiry := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-003",
		ExpiryDate:        &expiry,
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-003", domain.ValidationContext{
		CustomerID:      snowflake.ID(900100),
		TransactionDate: expiry,
	})
	require.NoError(t, err)
	assert.True(t, decision.Valid)
}

func TestValidate_WrongCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-004",
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-004", domain.ValidationContext{
		CustomerID:      snowflake.ID(777777),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, decision.Valid)
	assert.Equal(t, domain.ReasonWrongCustomer, decision.Reason)
}

func TestValidate_TaxCodeScope(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-005",
		TaxCodes:          []string{"US-CA-SALES", "US-NY-SALES"},
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-005", domain.ValidationContext{
		RuleCode:        "US-TX-SALES",
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, decision.Valid)
	assert.Equal(t, domain.ReasonWrongTaxCode, decision.Reason)
}

func TestValidate_EmptyTaxCodesCoverAllRules(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-006",
	})

	decision, err := svc.Validate(testCtx(), "EX-2024-006", domain.ValidationContext{
		RuleCode:        "US-TX-SALES",
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, decision.Valid)
}

func TestValidate_JurisdictionMatchers(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-007",
		Jurisdictions: []domain.JurisdictionMatcher{
			{CountryCode: "US", StateCode: "CA"},
		},
	})

	inState, err := svc.Validate(testCtx(), "EX-2024-007", domain.ValidationContext{
		CountryCode:     "US",
		StateCode:       "ca",
		CityName:        "Los Angeles",
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, inState.Valid, "state match is case-insensitive and city is a wildcard")

	outOfState, err := svc.Validate(testCtx(), "EX-2024-007", domain.ValidationContext{
		CountryCode:     "US",
		StateCode:       "NY",
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, outOfState.Valid)
	assert.Equal(t, domain.ReasonWrongJurisdiction, outOfState.Reason)
}

func TestValidate_UnknownCertificateIsRejectedNotErrored(t *testing.T) {
	svc, _, _ := newTestService(t)

	decision, err := svc.Validate(testCtx(), "EX-NOPE", domain.ValidationContext{
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, decision.Valid)
}

func TestDeactivateCertificate(t *testing.T) {
	svc, audit, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-008",
	})

	cert, err := svc.DeactivateCertificate(testCtx(), "EX-2024-008")
	require.NoError(t, err)
	assert.False(t, cert.IsActive)

	decision, err := svc.Validate(testCtx(), "EX-2024-008", domain.ValidationContext{
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, decision.Valid)
	assert.Equal(t, domain.ReasonInactive, decision.Reason)

	require.Len(t, audit.records, 2)
	assert.Equal(t, auditdomain.ActionUpdate, audit.records[1].Action)
}

func TestCreateCertificate_DuplicateNumber(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-009",
	})

	_, err := svc.CreateCertificate(testCtx(), domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-009",
		CustomerID:        "900100",
		ExemptionType:     "RESALE",
		IssueDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateNumber)
}

func TestCreateCertificate_RequiresCompanyContext(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateCertificate(context.Background(), domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-010",
		CustomerID:        "900100",
		ExemptionType:     "RESALE",
		IssueDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidCompany)
}

func TestDeleteCertificate_RefusedWhenReferenced(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.ledger = &stubLedger{inUse: true}

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-011",
	})

	err := svc.DeleteCertificate(testCtx(), "EX-2024-011")
	assert.ErrorIs(t, err, domain.ErrCertificateInUse)

	cert, err := svc.GetCertificate(testCtx(), "EX-2024-011")
	require.NoError(t, err)
	assert.NotNil(t, cert)
}

func TestDeleteCertificate_HardDeletesWhenUnreferenced(t *testing.T) {
	svc, audit, _ := newTestService(t)
	svc.ledger = &stubLedger{inUse: false}

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-012",
	})

	require.NoError(t, svc.DeleteCertificate(testCtx(), "EX-2024-012"))

	_, err := svc.GetCertificate(testCtx(), "EX-2024-012")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, audit.records, 2)
	assert.Equal(t, auditdomain.ActionDelete, audit.records[1].Action)
}

func TestListCertificates_ScopedToCompany(t *testing.T) {
	svc, _, _ := newTestService(t)

	createCert(t, svc, domain.CreateCertificateRequest{CertificateNumber: "EX-2024-013"})
	createCert(t, svc, domain.CreateCertificateRequest{CertificateNumber: "EX-2024-014"})

	otherCtx := tenantctx.WithCompanyID(context.Background(), snowflake.ID(77))

	mine, err := svc.ListCertificates(testCtx(), domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := svc.ListCertificates(otherCtx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestCreateCertificate_RollsBackWhenAuditWriteFails(t *testing.T) {
	svc, _ := newTestServiceWithAudit(t, failingAudit{})
	ctx := testCtx()

	_, err := svc.CreateCertificate(ctx, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-001",
		CustomerID:        "900100",
		ExemptionType:     "RESALE",
		IssueDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	// The certificate must not be observable without its trail entry.
	_, err = svc.GetCertificate(ctx, "EX-2024-001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidate_RecordsCheckOutcome(t *testing.T) {
	svc, _, _ := newTestService(t)

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)
	svc.metrics = m

	createCert(t, svc, domain.CreateCertificateRequest{
		CertificateNumber: "EX-2024-020",
	})

	_, err = svc.Validate(testCtx(), "EX-2024-020", domain.ValidationContext{
		CustomerID:      snowflake.ID(900100),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = svc.Validate(testCtx(), "EX-2024-020", domain.ValidationContext{
		CustomerID:      snowflake.ID(777777),
		TransactionDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// One sample per distinct outcome: valid and wrong_customer.
	count, err := testutil.GatherAndCount(registry, "taxengine_exemption_checks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
