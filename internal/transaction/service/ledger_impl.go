package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	auditcontext "github.com/paksafinancial/taxengine/internal/auditcontext"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/observability/metrics"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/paksafinancial/taxengine/internal/transaction/domain"
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
	Metrics *metrics.Metrics `optional:"true"`
}

type Ledger struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	audit   auditdomain.Recorder
	metrics *metrics.Metrics
}

func NewLedger(p Params) domain.Ledger {
	return &Ledger{
		db:      p.DB,
		log:     p.Log.Named("transaction.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (l *Ledger) CreateDraft(ctx context.Context, req domain.CreateDraftRequest) (*domain.Transaction, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}
	taxType, ok := taxruledomain.ParseTaxType(req.TaxType)
	if !ok {
		return nil, domain.ErrInvalidTaxType
	}
	if req.TaxableAmount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	if req.TransactionDate.IsZero() {
		return nil, domain.ErrInvalidDate
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := l.clock.Now()
	txn := &domain.Transaction{
		ID:                     uuid.New(),
		ReferenceNumber:        strings.TrimSpace(req.ReferenceNumber),
		TransactionDate:        req.TransactionDate.UTC(),
		CompanyID:              companyID,
		Status:                 domain.StatusDraft,
		TaxType:                string(taxType),
		TransactionType:        strings.ToLower(strings.TrimSpace(req.TransactionType)),
		RuleID:                 req.RuleID,
		RuleCode:               req.RuleCode,
		JurisdictionID:         req.JurisdictionID,
		TaxableAmount:          req.TaxableAmount,
		TaxAmount:              req.TaxAmount,
		TotalAmount:            req.TaxableAmount.Add(req.TaxAmount),
		Currency:               currency,
		SourceDocumentType:     req.SourceDocumentType,
		SourceDocumentID:       req.SourceDocumentID,
		ExemptionCertificateID: req.ExemptionCertificateID,
		Notes:                  req.Notes,
		Components:             l.buildComponents(uuid.Nil, req.Components),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for i := range txn.Components {
		txn.Components[i].TransactionID = txn.ID
	}
	if err := txn.ValidateInvariants(); err != nil {
		return nil, err
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.repo.Create(ctx, tx, txn); err != nil {
			return err
		}
		return l.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_transaction",
			EntityID:   txn.ID.String(),
			Action:     auditdomain.ActionCreate,
			NewValues:  txn.HeaderValues(),
		})
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordTransaction("create")
	}
	return txn, nil
}

func (l *Ledger) UpdateDraft(ctx context.Context, id uuid.UUID, patch domain.UpdateDraftRequest) (*domain.Transaction, error) {
	txn, companyID, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusDraft {
		return nil, domain.ErrInvalidState
	}

	old := txn.HeaderValues()

	if patch.TransactionDate != nil {
		txn.TransactionDate = patch.TransactionDate.UTC()
	}
	if patch.ReferenceNumber != nil {
		txn.ReferenceNumber = strings.TrimSpace(*patch.ReferenceNumber)
	}
	if patch.TaxableAmount != nil {
		if patch.TaxableAmount.IsNegative() {
			return nil, domain.ErrInvalidAmount
		}
		txn.TaxableAmount = *patch.TaxableAmount
	}
	if patch.TaxAmount != nil {
		txn.TaxAmount = *patch.TaxAmount
	}
	if patch.Notes != nil {
		txn.Notes = *patch.Notes
	}
	if patch.Components != nil {
		txn.Components = l.buildComponents(txn.ID, patch.Components)
	}
	txn.TotalAmount = txn.TaxableAmount.Add(txn.TaxAmount)
	txn.UpdatedAt = l.clock.Now()

	if err := txn.ValidateInvariants(); err != nil {
		return nil, err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.repo.Save(ctx, tx, txn); err != nil {
			return err
		}
		if patch.Components != nil {
			if err := l.repo.ReplaceComponents(ctx, tx, txn); err != nil {
				return err
			}
		}
		return l.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_transaction",
			EntityID:   txn.ID.String(),
			Action:     auditdomain.ActionUpdate,
			OldValues:  old,
			NewValues:  txn.HeaderValues(),
		})
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordTransaction("update")
	}
	return txn, nil
}

// Post assigns the document number and moves the draft to posted. The
// status guard and the counter increment run in one transaction, so
// concurrent posts of the same draft cannot both succeed and numbers stay
// gap-free.
func (l *Ledger) Post(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, companyID, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusDraft {
		return nil, domain.ErrInvalidState
	}
	if err := txn.ValidateInvariants(); err != nil {
		return nil, err
	}

	actor := auditcontext.UserFromContext(ctx)
	if actor == "" {
		return nil, domain.ErrMissingActor
	}

	now := l.clock.Now()
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := l.repo.TransitionStatus(ctx, tx, txn.ID, domain.StatusDraft, domain.StatusPosted)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidState
		}

		year := txn.TransactionDate.Year()
		seq, err := l.repo.NextDocumentNumber(ctx, tx, companyID, txn.TaxType, year)
		if err != nil {
			return err
		}
		docNumber := formatDocumentNumber(txn.TaxType, year, seq)

		txn.DocumentNumber = &docNumber
		txn.Status = domain.StatusPosted
		txn.PostedBy = &actor
		txn.PostedAt = &now
		txn.UpdatedAt = now
		if err := l.repo.Save(ctx, tx, txn); err != nil {
			return err
		}

		return l.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_transaction",
			EntityID:   txn.ID.String(),
			Action:     auditdomain.ActionPost,
			NewValues: map[string]any{
				"document_number": docNumber,
				"posted_by":       actor,
				"tax_amount":      txn.TaxAmount.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordTransaction("post")
	}
	return txn, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, _, err := l.load(ctx, id)
	return txn, err
}

func (l *Ledger) List(ctx context.Context, req domain.ListRequest) ([]domain.Transaction, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, auditdomain.ErrInvalidCompany
	}
	return l.repo.List(ctx, companyID, req)
}

// Void posts a negating reversal and flips the original to voided, both in
// one transaction. The reversal reuses the original document number behind a
// VOID- prefix and consumes no counter value.
func (l *Ledger) Void(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error) {
	txn, companyID, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusPosted {
		return nil, domain.ErrInvalidState
	}
	if txn.DocumentNumber == nil {
		return nil, domain.ErrInvalidState
	}

	actor := auditcontext.UserFromContext(ctx)
	if actor == "" {
		return nil, domain.ErrMissingActor
	}

	now := l.clock.Now()
	voidNumber := "VOID-" + *txn.DocumentNumber
	sourceType := "tax_transaction"

	reversal := &domain.Transaction{
		ID:                     uuid.New(),
		DocumentNumber:         &voidNumber,
		ReferenceNumber:        txn.ReferenceNumber,
		TransactionDate:        now,
		CompanyID:              companyID,
		Status:                 domain.StatusPosted,
		TaxType:                txn.TaxType,
		TransactionType:        txn.TransactionType,
		RuleID:                 txn.RuleID,
		RuleCode:               txn.RuleCode,
		JurisdictionID:         txn.JurisdictionID,
		TaxableAmount:          txn.TaxableAmount.Neg(),
		TaxAmount:              txn.TaxAmount.Neg(),
		TotalAmount:            txn.TotalAmount.Neg(),
		Currency:               txn.Currency,
		SourceDocumentType:     &sourceType,
		SourceDocumentID:       &txn.ID,
		ExemptionCertificateID: txn.ExemptionCertificateID,
		Notes:                  reason,
		PostedBy:               &actor,
		PostedAt:               &now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for _, component := range txn.Components {
		reversal.Components = append(reversal.Components, domain.Component{
			ID:               l.genID.Generate(),
			TransactionID:    reversal.ID,
			JurisdictionID:   component.JurisdictionID,
			JurisdictionCode: component.JurisdictionCode,
			RuleCode:         component.RuleCode,
			ComponentRate:    component.ComponentRate,
			TaxableAmount:    component.TaxableAmount.Neg(),
			ComponentAmount:  component.ComponentAmount.Neg(),
			Exempt:           component.Exempt,
		})
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := l.repo.TransitionStatus(ctx, tx, txn.ID, domain.StatusPosted, domain.StatusVoided)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidState
		}
		if err := l.repo.Create(ctx, tx, reversal); err != nil {
			return err
		}

		if err := l.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_transaction",
			EntityID:   reversal.ID.String(),
			Action:     auditdomain.ActionPost,
			NewValues: map[string]any{
				"document_number":    voidNumber,
				"source_document_id": txn.ID.String(),
				"tax_amount":         reversal.TaxAmount.String(),
			},
		}); err != nil {
			return err
		}
		return l.audit.Record(ctx, tx, auditdomain.Record{
			CompanyID:  &companyID,
			EntityType: "tax_transaction",
			EntityID:   txn.ID.String(),
			Action:     auditdomain.ActionVoid,
			OldValues:  map[string]any{"status": string(domain.StatusPosted)},
			NewValues:  map[string]any{"status": string(domain.StatusVoided)},
			Notes:      reason,
		})
	})
	if err != nil {
		return nil, err
	}

	txn.Status = domain.StatusVoided
	if l.metrics != nil {
		l.metrics.RecordTransaction("void")
	}
	return reversal, nil
}

func (l *Ledger) load(ctx context.Context, id uuid.UUID) (*domain.Transaction, snowflake.ID, error) {
	companyID, ok := tenantctx.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return nil, 0, auditdomain.ErrInvalidCompany
	}
	txn, err := l.repo.FindByID(ctx, companyID, id)
	if err != nil {
		return nil, 0, err
	}
	if txn == nil {
		return nil, 0, domain.ErrNotFound
	}
	return txn, companyID, nil
}

func (l *Ledger) buildComponents(txnID uuid.UUID, inputs []domain.ComponentInput) []domain.Component {
	components := make([]domain.Component, 0, len(inputs))
	for _, input := range inputs {
		components = append(components, domain.Component{
			ID:               l.genID.Generate(),
			TransactionID:    txnID,
			JurisdictionID:   input.JurisdictionID,
			JurisdictionCode: input.JurisdictionCode,
			RuleCode:         input.RuleCode,
			ComponentRate:    input.ComponentRate,
			TaxableAmount:    input.TaxableAmount,
			ComponentAmount:  input.ComponentAmount,
			Exempt:           input.Exempt,
		})
	}
	return components
}

func formatDocumentNumber(taxType string, year int, seq int64) string {
	return fmt.Sprintf("TR-%s-%d-%04d", strings.ToUpper(taxType), year, seq)
}
