package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	compliancedomain "github.com/paksafinancial/taxengine/internal/compliance/domain"
)

type complianceReportQuery struct {
	PeriodKind  string `form:"period"`
	Year        int    `form:"year"`
	PeriodIndex int    `form:"period_index"`
}

func (s *Server) GenerateComplianceReport(c *gin.Context) {
	var query complianceReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.analyzer.GenerateComplianceReport(c.Request.Context(), compliancedomain.ReportRequest{
		PeriodKind:  compliancedomain.PeriodKind(strings.TrimSpace(query.PeriodKind)),
		Year:        query.Year,
		PeriodIndex: query.PeriodIndex,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) DetectSuspiciousActivity(c *gin.Context) {
	var query struct {
		LookbackDays int `form:"lookback_days,default=30"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	anomalies, err := s.analyzer.DetectSuspiciousActivity(c.Request.Context(), query.LookbackDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": anomalies})
}
