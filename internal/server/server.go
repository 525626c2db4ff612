package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paksafinancial/taxengine/internal/audit"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	"github.com/paksafinancial/taxengine/internal/calculation"
	calculationdomain "github.com/paksafinancial/taxengine/internal/calculation/domain"
	"github.com/paksafinancial/taxengine/internal/clock"
	"github.com/paksafinancial/taxengine/internal/compliance"
	compliancedomain "github.com/paksafinancial/taxengine/internal/compliance/domain"
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/internal/exemption"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	"github.com/paksafinancial/taxengine/internal/jurisdiction"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"github.com/paksafinancial/taxengine/internal/observability"
	obsmiddleware "github.com/paksafinancial/taxengine/internal/observability/logger"
	obsmetrics "github.com/paksafinancial/taxengine/internal/observability/metrics"
	obstracing "github.com/paksafinancial/taxengine/internal/observability/tracing"
	"github.com/paksafinancial/taxengine/internal/taxrule"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/paksafinancial/taxengine/internal/transaction"
	transactiondomain "github.com/paksafinancial/taxengine/internal/transaction/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	audit.Module,
	jurisdiction.Module,
	taxrule.Module,
	exemption.Module,
	calculation.Module,
	transaction.Module,
	compliance.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(RequestContext())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	clock  clock.Clock

	registry        taxruledomain.Registry
	jurisdictionSvc jurisdictiondomain.Service
	resolver        jurisdictiondomain.Resolver
	exemptionSvc    exemptiondomain.Service
	validator       exemptiondomain.Validator
	calculator      calculationdomain.Calculator
	ledger          transactiondomain.Ledger
	auditSvc        auditdomain.Service
	analyzer        compliancedomain.Analyzer
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	Registry        taxruledomain.Registry
	JurisdictionSvc jurisdictiondomain.Service
	Resolver        jurisdictiondomain.Resolver
	ExemptionSvc    exemptiondomain.Service
	Validator       exemptiondomain.Validator
	Calculator      calculationdomain.Calculator
	Ledger          transactiondomain.Ledger
	AuditSvc        auditdomain.Service
	Analyzer        compliancedomain.Analyzer
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           p.Clock,
		registry:        p.Registry,
		jurisdictionSvc: p.JurisdictionSvc,
		resolver:        p.Resolver,
		exemptionSvc:    p.ExemptionSvc,
		validator:       p.Validator,
		calculator:      p.Calculator,
		ledger:          p.Ledger,
		auditSvc:        p.AuditSvc,
		analyzer:        p.Analyzer,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1", TenantRequired())

	rules := v1.Group("/tax-rules")
	rules.POST("", s.CreateTaxRule)
	rules.GET("", s.SearchTaxRules)
	rules.GET("/:code", s.GetTaxRule)
	rules.GET("/:code/effective-rate", s.GetEffectiveRate)
	rules.PATCH("/:code", s.UpdateTaxRule)
	rules.DELETE("/:code", s.DeleteTaxRule)

	jurisdictions := v1.Group("/jurisdictions")
	jurisdictions.POST("", s.CreateJurisdiction)
	jurisdictions.GET("", s.ListJurisdictions)
	jurisdictions.GET("/:code", s.GetJurisdiction)
	jurisdictions.PATCH("/:code", s.UpdateJurisdiction)
	jurisdictions.DELETE("/:code", s.DeactivateJurisdiction)
	jurisdictions.POST("/resolve", s.ResolveJurisdictions)

	certificates := v1.Group("/exemption-certificates")
	certificates.POST("", s.CreateExemptionCertificate)
	certificates.GET("", s.ListExemptionCertificates)
	certificates.GET("/:number", s.GetExemptionCertificate)
	certificates.PATCH("/:number", s.UpdateExemptionCertificate)
	certificates.DELETE("/:number", s.DeleteExemptionCertificate)
	certificates.POST("/:number/validate", s.ValidateExemptionCertificate)

	v1.POST("/calculations", s.CalculateTax)
	v1.POST("/tax-ids/validate", s.ValidateTaxID)

	transactions := v1.Group("/transactions")
	transactions.POST("", s.CreateTransaction)
	transactions.GET("", s.ListTransactions)
	transactions.GET("/:id", s.GetTransaction)
	transactions.PATCH("/:id", s.UpdateTransaction)
	transactions.POST("/:id/post", s.PostTransaction)
	transactions.POST("/:id/void", s.VoidTransaction)

	v1.GET("/audit-logs", s.ListAuditLogs)

	compliance := v1.Group("/compliance")
	compliance.GET("/report", s.GenerateComplianceReport)
	compliance.GET("/anomalies", s.DetectSuspiciousActivity)
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
