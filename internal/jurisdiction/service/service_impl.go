package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Audit auditdomain.Recorder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	audit auditdomain.Recorder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("jurisdiction.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

// NewResolver exposes the same instance through the resolution port.
func NewResolver(svc domain.Service) domain.Resolver {
	return svc.(*Service)
}

// Resolve returns applicable jurisdictions in strict order: federal, state,
// county, city, then every active district for the state. A level is
// included only when both the input names it and a matching record exists.
func (s *Service) Resolve(ctx context.Context, addr domain.Address) ([]domain.Jurisdiction, error) {
	addr = addr.Normalized()
	if addr.CountryCode == "" {
		return nil, domain.ErrInvalidCountry
	}

	resolved := make([]domain.Jurisdiction, 0, 5)

	federal, err := s.repo.FindNode(ctx, domain.LevelFederal, addr)
	if err != nil {
		return nil, err
	}
	if federal != nil {
		resolved = append(resolved, *federal)
	}

	if addr.StateCode == "" {
		return resolved, nil
	}

	state, err := s.repo.FindNode(ctx, domain.LevelState, addr)
	if err != nil {
		return nil, err
	}
	if state != nil {
		resolved = append(resolved, *state)
	}

	if addr.CountyName != "" {
		county, err := s.repo.FindNode(ctx, domain.LevelCounty, addr)
		if err != nil {
			return nil, err
		}
		if county != nil {
			resolved = append(resolved, *county)
		}
	}

	if addr.CityName != "" {
		city, err := s.repo.FindNode(ctx, domain.LevelCity, addr)
		if err != nil {
			return nil, err
		}
		if city != nil {
			resolved = append(resolved, *city)
		}
	}

	districts, err := s.repo.ListDistricts(ctx, addr.CountryCode, addr.StateCode)
	if err != nil {
		return nil, err
	}
	resolved = append(resolved, districts...)

	return resolved, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Jurisdiction, error) {
	var parentID *snowflake.ID
	if parentCode := strings.TrimSpace(req.ParentCode); parentCode != "" {
		parent, err := s.repo.FindByCode(ctx, parentCode)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, domain.ErrInvalidParent
		}
		if !req.Level.ValidParentLevel(parent.Level) {
			return nil, domain.ErrInvalidParent
		}
		parentID = &parent.ID
	} else if req.Level != domain.LevelFederal {
		return nil, domain.ErrInvalidParent
	}

	existing, err := s.repo.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateCode
	}

	now := s.clock.Now()
	record := &domain.Jurisdiction{
		ID:                       s.genID.Generate(),
		ParentID:                 parentID,
		Code:                     strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:                     strings.TrimSpace(req.Name),
		Level:                    req.Level,
		CountryCode:              strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		StateCode:                strings.ToUpper(strings.TrimSpace(req.StateCode)),
		CountyName:               strings.TrimSpace(req.CountyName),
		CityName:                 strings.TrimSpace(req.CityName),
		IsActive:                 true,
		RegistrationRequired:     req.RegistrationRequired,
		MinimumTransactionAmount: req.MinimumTransactionAmount,
		RequiredFilingFrequency:  req.RequiredFilingFrequency,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	// Jurisdiction and audit entry commit or roll back together.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, record); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Record{
			EntityType: "tax_jurisdiction",
			EntityID:   record.Code,
			Action:     auditdomain.ActionCreate,
			NewValues: map[string]any{
				"code":    record.Code,
				"name":    record.Name,
				"level":   string(record.Level),
				"country": record.CountryCode,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Jurisdiction, error) {
	row, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Jurisdiction, error) {
	return s.repo.List(ctx, req)
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Jurisdiction, error) {
	row, err := s.repo.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}

	old := map[string]any{
		"name":      row.Name,
		"is_active": row.IsActive,
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidCode
		}
		row.Name = name
	}
	if req.RegistrationRequired != nil {
		row.RegistrationRequired = *req.RegistrationRequired
	}
	if req.MinimumTransactionAmount != nil {
		row.MinimumTransactionAmount = *req.MinimumTransactionAmount
	}
	if req.RequiredFilingFrequency != nil {
		row.RequiredFilingFrequency = req.RequiredFilingFrequency
	}
	if req.IsActive != nil {
		row.IsActive = *req.IsActive
	}
	row.UpdatedAt = s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, row); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Record{
			EntityType: "tax_jurisdiction",
			EntityID:   row.Code,
			Action:     auditdomain.ActionUpdate,
			OldValues:  old,
			NewValues: map[string]any{
				"name":      row.Name,
				"is_active": row.IsActive,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return row, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) (*domain.Jurisdiction, error) {
	inactive := false
	return s.Update(ctx, domain.UpdateRequest{Code: code, IsActive: &inactive})
}
