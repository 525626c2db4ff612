package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/audit/repository"
	auditcontext "github.com/paksafinancial/taxengine/internal/auditcontext"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/pkg/db/pagination"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const companyID = snowflake.ID(42)

func newTestService(t *testing.T) (*Service, *clock.FakeClock, *gorm.DB) {
	return newTestServiceWithRetention(t, 0)
}

func newTestServiceWithRetention(t *testing.T, retentionDays int) (*Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&auditdomain.Entry{}))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   config.Config{AuditRetentionDays: retentionDays},
		Repo:  repository.Provide(),
	})
	return svc.(*Service), fake, gdb
}

func testCtx() context.Context {
	ctx := tenantctx.WithCompanyID(context.Background(), companyID)
	return auditcontext.WithUser(ctx, "finance-user")
}

func TestRecord_ResolvesCompanyAndUserFromContext(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx()

	err := svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_rule",
		EntityID:   "US-CA-SALES",
		Action:     auditdomain.ActionCreate,
		NewValues:  map[string]any{"code": "US-CA-SALES"},
	})
	require.NoError(t, err)

	resp, err := svc.List(ctx, auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)

	entry := resp.Entries[0]
	require.NotNil(t, entry.CompanyID)
	assert.Equal(t, companyID, *entry.CompanyID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "finance-user", *entry.UserID)
	assert.Equal(t, auditdomain.ActionCreate, entry.Action)
	assert.Equal(t, "US-CA-SALES", entry.NewValues["code"])
}

func TestRecord_SystemActionWithoutCompanyOrUser(t *testing.T) {
	svc, _, gdb := newTestService(t)

	err := svc.Record(context.Background(), nil, auditdomain.Record{
		EntityType: "tax_rule",
		EntityID:   "US-CA-SALES",
		Action:     auditdomain.ActionUpdate,
		Notes:      "external rate feed refresh",
	})
	require.NoError(t, err)

	var entry auditdomain.Entry
	require.NoError(t, gdb.First(&entry).Error)
	assert.Nil(t, entry.CompanyID)
	assert.Nil(t, entry.UserID)
	require.NotNil(t, entry.Notes)
	assert.Equal(t, "external rate feed refresh", *entry.Notes)
}

func TestRecord_RejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx()

	err := svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_rule", EntityID: "X", Action: auditdomain.Action("SHRED"),
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "", EntityID: "X", Action: auditdomain.ActionCreate,
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidEntity)
}

func TestRecord_RollsBackWithCallerTransaction(t *testing.T) {
	svc, _, gdb := newTestService(t)
	ctx := testCtx()

	tx := gdb.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.Record(ctx, tx, auditdomain.Record{
		EntityType: "tax_transaction",
		EntityID:   "TR-SALES-2024-0001",
		Action:     auditdomain.ActionPost,
	}))
	require.NoError(t, tx.Rollback().Error)

	var count int64
	require.NoError(t, gdb.Model(&auditdomain.Entry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestList_FiltersByEntityActionAndWindow(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := testCtx()

	for i, action := range []auditdomain.Action{auditdomain.ActionCreate, auditdomain.ActionUpdate, auditdomain.ActionDelete} {
		fake.Set(time.Date(2024, 6, 1, 10+i, 0, 0, 0, time.UTC))
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
			EntityType: "tax_rule",
			EntityID:   "US-CA-SALES",
			Action:     action,
		}))
	}
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_jurisdiction",
		EntityID:   "US-CA",
		Action:     auditdomain.ActionCreate,
	}))

	byEntity, err := svc.List(ctx, auditdomain.ListRequest{EntityType: "tax_rule", EntityID: "US-CA-SALES"})
	require.NoError(t, err)
	assert.Len(t, byEntity.Entries, 3)

	byAction, err := svc.List(ctx, auditdomain.ListRequest{Action: "delete"})
	require.NoError(t, err)
	require.Len(t, byAction.Entries, 1)
	assert.Equal(t, auditdomain.ActionDelete, byAction.Entries[0].Action)

	start := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)
	byWindow, err := svc.List(ctx, auditdomain.ListRequest{EntityType: "tax_rule", StartAt: &start, EndAt: &end})
	require.NoError(t, err)
	require.Len(t, byWindow.Entries, 1)
	assert.Equal(t, auditdomain.ActionUpdate, byWindow.Entries[0].Action)

	_, err = svc.List(ctx, auditdomain.ListRequest{StartAt: &end, EndAt: &start})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func TestList_ScopedToCompany(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.Record(testCtx(), nil, auditdomain.Record{
		EntityType: "tax_rule", EntityID: "US-CA-SALES", Action: auditdomain.ActionCreate,
	}))

	otherCtx := tenantctx.WithCompanyID(context.Background(), snowflake.ID(99))
	resp, err := svc.List(otherCtx, auditdomain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)

	_, err = svc.List(context.Background(), auditdomain.ListRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidCompany)
}

func TestList_CursorPagination(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := testCtx()

	for i := 0; i < 5; i++ {
		fake.Set(time.Date(2024, 6, 1, 10, i, 0, 0, time.UTC))
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
			EntityType: "tax_rule",
			EntityID:   "US-CA-SALES",
			Action:     auditdomain.ActionUpdate,
		}))
	}

	first, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	// Newest first.
	assert.True(t, first.Entries[0].CreatedAt.After(first.Entries[1].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.True(t, first.Entries[1].CreatedAt.After(second.Entries[0].CreatedAt))

	third, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: second.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, third.Entries, 1)
	assert.False(t, third.HasMore)

	_, err = svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageToken: "not-a-cursor"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestPruneExpired_RemovesOnlyEntriesPastRetention(t *testing.T) {
	svc, fake, gdb := newTestServiceWithRetention(t, 90)
	ctx := testCtx()

	fake.Set(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_rule", EntityID: "US-CA-SALES", Action: auditdomain.ActionCreate,
	}))

	fake.Set(time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_rule", EntityID: "US-CA-SALES", Action: auditdomain.ActionUpdate,
	}))

	fake.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	removed, err := svc.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var remaining []auditdomain.Entry
	require.NoError(t, gdb.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, auditdomain.ActionUpdate, remaining[0].Action)
}

func TestPruneExpired_DisabledWithoutRetention(t *testing.T) {
	svc, fake, gdb := newTestService(t)
	ctx := testCtx()

	fake.Set(time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Record{
		EntityType: "tax_rule", EntityID: "US-CA-SALES", Action: auditdomain.ActionCreate,
	}))

	fake.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	removed, err := svc.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	var count int64
	require.NoError(t, gdb.Model(&auditdomain.Entry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
