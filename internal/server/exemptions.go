package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
)

func (s *Server) CreateExemptionCertificate(c *gin.Context) {
	var req exemptiondomain.CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cert, err := s.exemptionSvc.CreateCertificate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": cert})
}

func (s *Server) GetExemptionCertificate(c *gin.Context) {
	cert, err := s.exemptionSvc.GetCertificate(c.Request.Context(), c.Param("number"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cert})
}

func (s *Server) ListExemptionCertificates(c *gin.Context) {
	var query struct {
		CustomerID    string `form:"customer_id"`
		ExemptionType string `form:"exemption_type"`
		IsActive      string `form:"is_active"`
		SortBy        string `form:"sort_by"`
		OrderBy       string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	isActive, err := parseOptionalBool(query.IsActive)
	if err != nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "invalid is_active"))
		return
	}

	var customerID snowflake.ID
	if raw := strings.TrimSpace(query.CustomerID); raw != "" {
		customerID, err = parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
			return
		}
	}

	certs, err := s.exemptionSvc.ListCertificates(c.Request.Context(), exemptiondomain.ListRequest{
		CustomerID:    customerID,
		ExemptionType: strings.TrimSpace(query.ExemptionType),
		IsActive:      isActive,
		SortBy:        strings.TrimSpace(query.SortBy),
		OrderBy:       strings.TrimSpace(query.OrderBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": certs})
}

func (s *Server) UpdateExemptionCertificate(c *gin.Context) {
	var req exemptiondomain.UpdateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CertificateNumber = c.Param("number")

	cert, err := s.exemptionSvc.UpdateCertificate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cert})
}

func (s *Server) DeleteExemptionCertificate(c *gin.Context) {
	if err := s.exemptionSvc.DeleteCertificate(c.Request.Context(), c.Param("number")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type validateExemptionRequest struct {
	TaxType         string     `json:"tax_type"`
	RuleCode        string     `json:"rule_code"`
	CountryCode     string     `json:"country_code"`
	StateCode       string     `json:"state_code,omitempty"`
	CityName        string     `json:"city_name,omitempty"`
	CustomerID      string     `json:"customer_id"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
}

func (s *Server) ValidateExemptionCertificate(c *gin.Context) {
	var req validateExemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var customerID snowflake.ID
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		parsed, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
			return
		}
		customerID = parsed
	}

	transactionDate := s.clock.Now()
	if req.TransactionDate != nil {
		transactionDate = *req.TransactionDate
	}

	decision, err := s.validator.Validate(c.Request.Context(), c.Param("number"), exemptiondomain.ValidationContext{
		TaxType:         strings.TrimSpace(req.TaxType),
		RuleCode:        strings.TrimSpace(req.RuleCode),
		CountryCode:     strings.TrimSpace(req.CountryCode),
		StateCode:       strings.TrimSpace(req.StateCode),
		CityName:        strings.TrimSpace(req.CityName),
		CustomerID:      customerID,
		TransactionDate: transactionDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}
