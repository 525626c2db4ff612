package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	auditcontext "github.com/paksafinancial/taxengine/internal/auditcontext"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/pkg/db/pagination"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  auditdomain.Repository
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          auditdomain.Repository
	retentionDays int
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("audit.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		retentionDays: p.Cfg.AuditRetentionDays,
	}
}

// Record appends one trail entry. A non-nil tx makes the write part of the
// caller's transaction; otherwise the entry is written on the service's own
// connection.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, rec auditdomain.Record) error {
	if !rec.Action.Valid() {
		return auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(rec.EntityType)
	entityID := strings.TrimSpace(rec.EntityID)
	if entityType == "" || entityID == "" {
		return auditdomain.ErrInvalidEntity
	}

	companyID := rec.CompanyID
	if companyID == nil || *companyID == 0 {
		if resolved, ok := tenantctx.CompanyIDFromContext(ctx); ok && resolved != 0 {
			companyID = &resolved
		} else {
			companyID = nil
		}
	}

	userID := normalizePointer(rec.UserID)
	if userID == nil {
		if user := auditcontext.UserFromContext(ctx); user != "" {
			userID = &user
		}
	}

	entry := auditdomain.Entry{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     rec.Action,
		UserID:     userID,
		OldValues:  toJSONMap(rec.OldValues),
		NewValues:  toJSONMap(rec.NewValues),
		CreatedAt:  s.clock.Now(),
	}
	if notes := strings.TrimSpace(rec.Notes); notes != "" {
		entry.Notes = &notes
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		entry.RequestID = &requestID
	}
	if ipAddress := auditcontext.IPAddressFromContext(ctx); ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent := auditcontext.UserAgentFromContext(ctx); userAgent != "" {
		entry.UserAgent = &userAgent
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write audit entry",
			zap.String("entity_type", entityType),
			zap.String("action", string(rec.Action)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidCompany
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		CompanyID:  companyID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		UserID:     req.UserID,
		Action:     req.Action,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      int(pageSize),
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *auditdomain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := auditdomain.ListResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// PruneExpired removes trail entries past the retention window. Retention is
// global, not per company; the cutoff moves with the service clock so tests
// can drive it.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	removed, err := s.repo.DeleteOlderThan(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("pruned expired audit entries",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

func toJSONMap(values map[string]any) datatypes.JSONMap {
	if len(values) == 0 {
		return nil
	}
	payload := make(map[string]any, len(values))
	for key, value := range values {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	return datatypes.JSONMap(payload)
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
