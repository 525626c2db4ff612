package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
)

func (s *Server) CreateJurisdiction(c *gin.Context) {
	var req jurisdictiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	jurisdiction, err := s.jurisdictionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": jurisdiction})
}

func (s *Server) GetJurisdiction(c *gin.Context) {
	jurisdiction, err := s.jurisdictionSvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jurisdiction})
}

func (s *Server) ListJurisdictions(c *gin.Context) {
	var query struct {
		Level    string `form:"level"`
		Country  string `form:"country"`
		State    string `form:"state"`
		IsActive string `form:"is_active"`
		SortBy   string `form:"sort_by"`
		OrderBy  string `form:"order_by"`
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

	jurisdictions, err := s.jurisdictionSvc.List(c.Request.Context(), jurisdictiondomain.ListRequest{
		Level:       jurisdictiondomain.Level(strings.TrimSpace(query.Level)),
		CountryCode: strings.TrimSpace(query.Country),
		StateCode:   strings.TrimSpace(query.State),
		IsActive:    isActive,
		SortBy:      strings.TrimSpace(query.SortBy),
		OrderBy:     strings.TrimSpace(query.OrderBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jurisdictions})
}

func (s *Server) UpdateJurisdiction(c *gin.Context) {
	var req jurisdictiondomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Code = c.Param("code")

	jurisdiction, err := s.jurisdictionSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jurisdiction})
}

func (s *Server) DeactivateJurisdiction(c *gin.Context) {
	jurisdiction, err := s.jurisdictionSvc.Deactivate(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jurisdiction})
}

func (s *Server) ResolveJurisdictions(c *gin.Context) {
	var addr jurisdictiondomain.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resolved, err := s.resolver.Resolve(c.Request.Context(), addr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resolved})
}
