package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	transactiondomain "github.com/paksafinancial/taxengine/internal/transaction/domain"
)

func (s *Server) CreateTransaction(c *gin.Context) {
	var req transactiondomain.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.ledger.CreateDraft(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	txn, err := s.ledger.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		Status    string `form:"status"`
		TaxType   string `form:"tax_type"`
		StartDate string `form:"start_date"`
		EndDate   string `form:"end_date"`
		Limit     int    `form:"limit"`
		Offset    int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startDate, err := parseOptionalTime(query.StartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}
	endDate, err := parseOptionalTime(query.EndDate, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	txns, err := s.ledger.List(c.Request.Context(), transactiondomain.ListRequest{
		Status:    transactiondomain.Status(strings.TrimSpace(query.Status)),
		TaxType:   strings.TrimSpace(query.TaxType),
		StartDate: startDate,
		EndDate:   endDate,
		Limit:     query.Limit,
		Offset:    query.Offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txns})
}

func (s *Server) UpdateTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	var patch transactiondomain.UpdateDraftRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.ledger.UpdateDraft(c.Request.Context(), id, patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) PostTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	txn, err := s.ledger.Post(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type voidTransactionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) VoidTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	var req voidTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reversal, err := s.ledger.Void(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reversal})
}
