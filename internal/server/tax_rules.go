package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
)

func (s *Server) CreateTaxRule(c *gin.Context) {
	var req taxruledomain.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.registry.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

func (s *Server) GetTaxRule(c *gin.Context) {
	rule, err := s.registry.GetRule(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rule == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) SearchTaxRules(c *gin.Context) {
	var query taxruledomain.SearchRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rules, err := s.registry.SearchRules(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (s *Server) GetEffectiveRate(c *gin.Context) {
	asOf := s.clock.Now()
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		parsed, err := parseOptionalTime(raw, false)
		if err != nil {
			AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
			return
		}
		asOf = *parsed
	}

	rate, err := s.registry.GetEffectiveRate(c.Request.Context(), c.Param("code"), asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rate == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  rate,
		"as_of": asOf.UTC().Format(time.RFC3339),
	})
}

func (s *Server) UpdateTaxRule(c *gin.Context) {
	var req taxruledomain.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Code = c.Param("code")

	rule, err := s.registry.UpdateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) DeleteTaxRule(c *gin.Context) {
	if err := s.registry.DeleteRule(c.Request.Context(), c.Param("code")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
