package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	calculationdomain "github.com/paksafinancial/taxengine/internal/calculation/domain"
	"github.com/paksafinancial/taxengine/internal/taxid"
)

func (s *Server) CalculateTax(c *gin.Context) {
	var req calculationdomain.CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.calculator.Calculate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type validateTaxIDRequest struct {
	TaxID   string `json:"tax_id" binding:"required"`
	Country string `json:"country" binding:"required"`
}

func (s *Server) ValidateTaxID(c *gin.Context) {
	var req validateTaxIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result := taxid.Validate(strings.TrimSpace(req.TaxID), strings.TrimSpace(req.Country))
	c.JSON(http.StatusOK, gin.H{"data": result})
}
