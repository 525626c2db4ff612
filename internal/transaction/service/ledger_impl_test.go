package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	auditcontext "github.com/paksafinancial/taxengine/internal/auditcontext"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/transaction/domain"
	"github.com/paksafinancial/taxengine/internal/transaction/repository"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"github.com/shopspring/decimal"
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

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) (*Ledger, *recordingAudit, *clock.FakeClock) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&domain.Transaction{},
		&domain.Component{},
		&domain.DocumentCounter{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	audit := &recordingAudit{}
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))

	ledger := NewLedger(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.NewRepository(gdb),
		Audit: audit,
	})
	return ledger.(*Ledger), audit, clk
}

func testCtx() context.Context {
	ctx := tenantctx.WithCompanyID(context.Background(), snowflake.ID(42))
	return auditcontext.WithUser(ctx, "finance-user")
}

func draftRequest() domain.CreateDraftRequest {
	return domain.CreateDraftRequest{
		TransactionDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		TaxType:         "sales",
		TaxableAmount:   dec("1000.00"),
		TaxAmount:       dec("72.50"),
		Components: []domain.ComponentInput{
			{
				JurisdictionID:  2,
				RuleCode:        "US-CA-SALES",
				ComponentRate:   dec("7.25"),
				TaxableAmount:   dec("1000.00"),
				ComponentAmount: dec("72.50"),
			},
		},
	}
}

func TestCreateDraft(t *testing.T) {
	ledger, audit, _ := newTestLedger(t)

	txn, err := ledger.CreateDraft(testCtx(), draftRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDraft, txn.Status)
	assert.Nil(t, txn.DocumentNumber, "drafts consume no document number")
	assert.True(t, txn.TotalAmount.Equal(dec("1072.50")))
	require.Len(t, audit.records, 1)
	assert.Equal(t, auditdomain.ActionCreate, audit.records[0].Action)
}

func TestCreateDraft_ComponentSumMismatch(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	req := draftRequest()
	req.Components[0].ComponentAmount = dec("70.00")

	_, err := ledger.CreateDraft(testCtx(), req)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestCreateDraft_ToleratesRoundingDrift(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	req := draftRequest()
	req.Components[0].ComponentAmount = dec("72.51")

	_, err := ledger.CreateDraft(testCtx(), req)
	assert.NoError(t, err)
}

func TestPost_AssignsSequentialDocumentNumbers(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	for i := 1; i <= 3; i++ {
		draft, err := ledger.CreateDraft(ctx, draftRequest())
		require.NoError(t, err)

		posted, err := ledger.Post(ctx, draft.ID)
		require.NoError(t, err)
		require.NotNil(t, posted.DocumentNumber)
		assert.Equal(t, fmt.Sprintf("TR-SALES-2024-%04d", i), *posted.DocumentNumber)
		assert.Equal(t, domain.StatusPosted, posted.Status)
		require.NotNil(t, posted.PostedBy)
		assert.Equal(t, "finance-user", *posted.PostedBy)
	}
}

func TestPost_CountersAreScopedByTaxTypeAndYear(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	salesDraft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	salesPosted, err := ledger.Post(ctx, salesDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, "TR-SALES-2024-0001", *salesPosted.DocumentNumber)

	vatReq := draftRequest()
	vatReq.TaxType = "vat"
	vatDraft, err := ledger.CreateDraft(ctx, vatReq)
	require.NoError(t, err)
	vatPosted, err := ledger.Post(ctx, vatDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, "TR-VAT-2024-0001", *vatPosted.DocumentNumber)

	lastYear := draftRequest()
	lastYear.TransactionDate = time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC)
	lastYearDraft, err := ledger.CreateDraft(ctx, lastYear)
	require.NoError(t, err)
	lastYearPosted, err := ledger.Post(ctx, lastYearDraft.ID)
	require.NoError(t, err)
	assert.Equal(t, "TR-SALES-2023-0001", *lastYearPosted.DocumentNumber)
}

func TestPost_RejectedOutsideDraft(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	_, err = ledger.Post(ctx, draft.ID)
	require.NoError(t, err)

	_, err = ledger.Post(ctx, draft.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPost_RequiresActor(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	ctx := tenantctx.WithCompanyID(context.Background(), snowflake.ID(42))
	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)

	_, err = ledger.Post(ctx, draft.ID)
	assert.ErrorIs(t, err, domain.ErrMissingActor)
}

func TestUpdateDraft(t *testing.T) {
	ledger, audit, _ := newTestLedger(t)
	ctx := testCtx()

	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)

	taxable := dec("2000.00")
	tax := dec("145.00")
	updated, err := ledger.UpdateDraft(ctx, draft.ID, domain.UpdateDraftRequest{
		TaxableAmount: &taxable,
		TaxAmount:     &tax,
		Components: []domain.ComponentInput{
			{
				JurisdictionID:  2,
				RuleCode:        "US-CA-SALES",
				ComponentRate:   dec("7.25"),
				TaxableAmount:   dec("2000.00"),
				ComponentAmount: dec("145.00"),
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, updated.TotalAmount.Equal(dec("2145.00")))

	require.Len(t, audit.records, 2)
	assert.Equal(t, auditdomain.ActionUpdate, audit.records[1].Action)
	assert.Equal(t, "1000", audit.records[1].OldValues["taxable_amount"])
	assert.Equal(t, "2000", audit.records[1].NewValues["taxable_amount"])
}

func TestUpdateDraft_RejectedOncePosted(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	_, err = ledger.Post(ctx, draft.ID)
	require.NoError(t, err)

	notes := "late edit"
	_, err = ledger.UpdateDraft(ctx, draft.ID, domain.UpdateDraftRequest{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVoid_CreatesNegatingReversal(t *testing.T) {
	ledger, audit, _ := newTestLedger(t)
	ctx := testCtx()

	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	posted, err := ledger.Post(ctx, draft.ID)
	require.NoError(t, err)

	reversal, err := ledger.Void(ctx, posted.ID, "customer refund")
	require.NoError(t, err)

	require.NotNil(t, reversal.DocumentNumber)
	assert.Equal(t, "VOID-TR-SALES-2024-0001", *reversal.DocumentNumber)
	assert.Equal(t, domain.StatusPosted, reversal.Status)
	assert.True(t, reversal.TaxableAmount.Equal(dec("-1000.00")))
	assert.True(t, reversal.TaxAmount.Equal(dec("-72.50")))
	require.NotNil(t, reversal.SourceDocumentID)
	assert.Equal(t, posted.ID, *reversal.SourceDocumentID)

	original, err := ledger.Get(ctx, posted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVoided, original.Status)
	assert.True(t, original.TaxableAmount.Equal(dec("1000.00")), "financial columns stay untouched")

	// Reversal components negate the original's.
	require.Len(t, reversal.Components, 1)
	assert.True(t, reversal.Components[0].ComponentAmount.Equal(dec("-72.50")))

	// POST audit on the reversal, VOID audit on the original.
	actions := make([]auditdomain.Action, 0, len(audit.records))
	for _, rec := range audit.records {
		actions = append(actions, rec.Action)
	}
	assert.Contains(t, actions, auditdomain.ActionVoid)
	last := audit.records[len(audit.records)-1]
	assert.Equal(t, auditdomain.ActionVoid, last.Action)
	assert.Equal(t, posted.ID.String(), last.EntityID)
	assert.Equal(t, "customer refund", last.Notes)
}

func TestVoid_ConsumesNoCounterValue(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	first, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	firstPosted, err := ledger.Post(ctx, first.ID)
	require.NoError(t, err)

	_, err = ledger.Void(ctx, firstPosted.ID, "entered twice")
	require.NoError(t, err)

	second, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)
	secondPosted, err := ledger.Post(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "TR-SALES-2024-0002", *secondPosted.DocumentNumber)
}

func TestVoid_RejectedOutsidePosted(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	draft, err := ledger.CreateDraft(ctx, draftRequest())
	require.NoError(t, err)

	_, err = ledger.Void(ctx, draft.ID, "not yet posted")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	posted, err := ledger.Post(ctx, draft.ID)
	require.NoError(t, err)
	_, err = ledger.Void(ctx, posted.ID, "refund")
	require.NoError(t, err)

	_, err = ledger.Void(ctx, posted.ID, "double void")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestList_FiltersAndOrdering(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	dates := []time.Time{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		req := draftRequest()
		req.TransactionDate = d
		draft, err := ledger.CreateDraft(ctx, req)
		require.NoError(t, err)
		_, err = ledger.Post(ctx, draft.ID)
		require.NoError(t, err)
	}

	all, err := ledger.List(ctx, domain.ListRequest{Status: domain.StatusPosted})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].TransactionDate.After(all[1].TransactionDate))
	assert.True(t, all[1].TransactionDate.After(all[2].TransactionDate))

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	filtered, err := ledger.List(ctx, domain.ListRequest{StartDate: &start})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestCheckers(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := testCtx()

	certID := snowflake.ID(555)
	req := draftRequest()
	req.RuleID = snowflake.ID(10)
	req.ExemptionCertificateID = &certID

	draft, err := ledger.CreateDraft(ctx, req)
	require.NoError(t, err)

	ruleChecker := NewRuleChecker(ledger.repo)
	certChecker := NewCertificateChecker(ledger.repo)

	inUse, err := ruleChecker.RuleHasPostedTransactions(ctx, snowflake.ID(10))
	require.NoError(t, err)
	assert.False(t, inUse, "drafts do not pin a rule")

	_, err = ledger.Post(ctx, draft.ID)
	require.NoError(t, err)

	inUse, err = ruleChecker.RuleHasPostedTransactions(ctx, snowflake.ID(10))
	require.NoError(t, err)
	assert.True(t, inUse)

	certInUse, err := certChecker.CertificateHasPostedTransactions(ctx, certID)
	require.NoError(t, err)
	assert.True(t, certInUse)
}
