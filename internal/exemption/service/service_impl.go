package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/exemption/domain"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	"github.com/paksafinancial/taxengine/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Audit   auditdomain.Recorder
	Ledger  domain.LedgerChecker `optional:"true"`
	Metrics *metrics.Metrics     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	audit   auditdomain.Recorder
	ledger  domain.LedgerChecker
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("exemption.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

// NewValidator exposes the same instance through the validation port.
func NewValidator(svc domain.Service) domain.Validator {
	return svc.(*Service)
}

func (s *Service) CreateCertificate(ctx context.Context, req domain.CreateCertificateRequest) (*domain.Certificate, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}

	now := s.clock.Now()
	cert := &domain.Certificate{
		ID:                  s.genID.Generate(),
		CompanyID:           companyID,
		CertificateNumber:   strings.ToUpper(strings.TrimSpace(req.CertificateNumber)),
		CustomerID:          customerID,
		CustomerName:        strings.TrimSpace(req.CustomerName),
		CustomerTaxID:       strings.TrimSpace(req.CustomerTaxID),
		ExemptionType:       strings.ToUpper(strings.TrimSpace(req.ExemptionType)),
		IssuingJurisdiction: strings.TrimSpace(req.IssuingJurisdiction),
		IssueDate:           req.IssueDate.UTC(),
		ExpiryDate:          normalizeTime(req.ExpiryDate),
		IsActive:            true,
		TaxCodes:            req.TaxCodes,
		Jurisdictions:       req.Jurisdictions,
		DocumentReference:   req.DocumentReference,
		Metadata:            req.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := cert.Validate(); err != nil {
		return nil, err
	}

	// Certificate and audit entry commit or roll back together.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, cert); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_exemption_certificate",
			EntityID:   cert.CertificateNumber,
			Action:     auditdomain.ActionCreate,
			NewValues: map[string]any{
				"certificate_number": cert.CertificateNumber,
				"customer_id":        cert.CustomerID.String(),
				"exemption_type":     cert.ExemptionType,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return cert, nil
}

func (s *Service) GetCertificate(ctx context.Context, certificateNumber string) (*domain.Certificate, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}
	cert, err := s.repo.FindByNumber(ctx, companyID, certificateNumber)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNotFound
	}
	return cert, nil
}

func (s *Service) ListCertificates(ctx context.Context, req domain.ListRequest) ([]domain.Certificate, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}
	return s.repo.List(ctx, companyID, req)
}

func (s *Service) UpdateCertificate(ctx context.Context, req domain.UpdateCertificateRequest) (*domain.Certificate, error) {
	cert, err := s.GetCertificate(ctx, req.CertificateNumber)
	if err != nil {
		return nil, err
	}

	old := map[string]any{
		"is_active":   cert.IsActive,
		"expiry_date": cert.ExpiryDate,
	}

	if req.ExpiryDate != nil {
		cert.ExpiryDate = normalizeTime(req.ExpiryDate)
	}
	if req.IsActive != nil {
		cert.IsActive = *req.IsActive
	}
	if req.TaxCodes != nil {
		cert.TaxCodes = req.TaxCodes
	}
	if req.Jurisdictions != nil {
		cert.Jurisdictions = *req.Jurisdictions
	}
	if req.DocumentReference != nil {
		cert.DocumentReference = req.DocumentReference
	}
	if req.Metadata != nil {
		cert.Metadata = req.Metadata
	}
	cert.UpdatedAt = s.clock.Now()

	if err := cert.Validate(); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, cert); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &cert.CompanyID,
			EntityType: "tax_exemption_certificate",
			EntityID:   cert.CertificateNumber,
			Action:     auditdomain.ActionUpdate,
			OldValues:  old,
			NewValues: map[string]any{
				"is_active":   cert.IsActive,
				"expiry_date": cert.ExpiryDate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return cert, nil
}

func (s *Service) DeactivateCertificate(ctx context.Context, certificateNumber string) (*domain.Certificate, error) {
	inactive := false
	return s.UpdateCertificate(ctx, domain.UpdateCertificateRequest{
		CertificateNumber: certificateNumber,
		IsActive:          &inactive,
	})
}

// DeleteCertificate hard-deletes, refused while any posted transaction
// still references the certificate; deactivation is the path for those.
func (s *Service) DeleteCertificate(ctx context.Context, certificateNumber string) error {
	cert, err := s.GetCertificate(ctx, certificateNumber)
	if err != nil {
		return err
	}

	if s.ledger != nil {
		inUse, err := s.ledger.CertificateHasPostedTransactions(ctx, cert.ID)
		if err != nil {
			return err
		}
		if inUse {
			return domain.ErrCertificateInUse
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Delete(ctx, tx, cert.ID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &cert.CompanyID,
			EntityType: "tax_exemption_certificate",
			EntityID:   cert.CertificateNumber,
			Action:     auditdomain.ActionDelete,
			OldValues: map[string]any{
				"certificate_number": cert.CertificateNumber,
				"customer_id":        cert.CustomerID.String(),
			},
		})
	})
}

// Validate loads the certificate by number and checks it against the
// context. A missing certificate is a rejection, not an error.
func (s *Service) Validate(ctx context.Context, certificateNumber string, vctx domain.ValidationContext) (domain.Decision, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return domain.Decision{}, auditdomain.ErrInvalidCompany
	}

	cert, err := s.repo.FindByNumber(ctx, companyID, certificateNumber)
	if err != nil {
		return domain.Decision{}, err
	}
	if cert == nil {
		return domain.Decision{Valid: false, Reason: domain.ReasonInactive}, nil
	}
	return s.ValidateCertificate(cert, vctx), nil
}

// ValidateCertificate applies the decision rules in order: validity window,
// customer, tax code coverage, jurisdiction matchers.
func (s *Service) ValidateCertificate(cert *domain.Certificate, vctx domain.ValidationContext) domain.Decision {
	decision := decideCertificate(cert, vctx)
	if s.metrics != nil {
		result := "valid"
		if !decision.Valid {
			result = string(decision.Reason)
		}
		s.metrics.RecordExemptionCheck(result)
	}
	return decision
}

func decideCertificate(cert *domain.Certificate, vctx domain.ValidationContext) domain.Decision {
	if !cert.IsActive {
		return domain.Decision{Valid: false, Reason: domain.ReasonInactive, Certificate: cert}
	}
	if !cert.IsValidOn(vctx.TransactionDate) {
		return domain.Decision{Valid: false, Reason: domain.ReasonExpired, Certificate: cert}
	}
	if cert.CustomerID != 0 && vctx.CustomerID != cert.CustomerID {
		return domain.Decision{Valid: false, Reason: domain.ReasonWrongCustomer, Certificate: cert}
	}
	if !cert.CoversRuleCode(vctx.RuleCode) {
		return domain.Decision{Valid: false, Reason: domain.ReasonWrongTaxCode, Certificate: cert}
	}
	if !cert.MatchesJurisdiction(vctx.CountryCode, vctx.StateCode, vctx.CityName) {
		return domain.Decision{Valid: false, Reason: domain.ReasonWrongJurisdiction, Certificate: cert}
	}
	return domain.Decision{Valid: true, Certificate: cert}
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
