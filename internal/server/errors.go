package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/paksafinancial/taxengine/internal/audit/domain"
	calculationdomain "github.com/paksafinancial/taxengine/internal/calculation/domain"
	compliancedomain "github.com/paksafinancial/taxengine/internal/compliance/domain"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	transactiondomain "github.com/paksafinancial/taxengine/internal/transaction/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auditdomain.ErrInvalidCompany):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictErrorMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, taxruledomain.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, taxruledomain.ErrInvalidCode),
		errors.Is(err, taxruledomain.ErrInvalidName),
		errors.Is(err, taxruledomain.ErrInvalidTaxType),
		errors.Is(err, taxruledomain.ErrInvalidJurisdiction),
		errors.Is(err, taxruledomain.ErrInvalidRate),
		errors.Is(err, taxruledomain.ErrInvalidRateType),
		errors.Is(err, taxruledomain.ErrInvalidEffectiveWindow),
		errors.Is(err, taxruledomain.ErrInvalidTiers):
		return true
	case errors.Is(err, jurisdictiondomain.ErrInvalidCode),
		errors.Is(err, jurisdictiondomain.ErrInvalidLevel),
		errors.Is(err, jurisdictiondomain.ErrInvalidParent),
		errors.Is(err, jurisdictiondomain.ErrInvalidCountry),
		errors.Is(err, jurisdictiondomain.ErrInvalidState):
		return true
	case errors.Is(err, exemptiondomain.ErrInvalidCertificateNumber),
		errors.Is(err, exemptiondomain.ErrInvalidCustomer),
		errors.Is(err, exemptiondomain.ErrInvalidExemptionType),
		errors.Is(err, exemptiondomain.ErrInvalidValidityWindow):
		return true
	case errors.Is(err, calculationdomain.ErrInvalidAmount),
		errors.Is(err, calculationdomain.ErrInvalidTaxType),
		errors.Is(err, calculationdomain.ErrInvalidAddress):
		return true
	case errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, transactiondomain.ErrInvalidTaxType),
		errors.Is(err, transactiondomain.ErrInvalidDate),
		errors.Is(err, transactiondomain.ErrMissingActor):
		return true
	case errors.Is(err, compliancedomain.ErrInvalidPeriod),
		errors.Is(err, compliancedomain.ErrInvalidLookback):
		return true
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, taxruledomain.ErrNotFound),
		errors.Is(err, jurisdictiondomain.ErrNotFound),
		errors.Is(err, exemptiondomain.ErrNotFound),
		errors.Is(err, transactiondomain.ErrNotFound),
		errors.Is(err, calculationdomain.ErrNoRuleFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, taxruledomain.ErrDuplicateCode),
		errors.Is(err, taxruledomain.ErrRuleInUse),
		errors.Is(err, jurisdictiondomain.ErrDuplicateCode),
		errors.Is(err, exemptiondomain.ErrDuplicateNumber),
		errors.Is(err, exemptiondomain.ErrCertificateInUse),
		errors.Is(err, transactiondomain.ErrInvalidState),
		errors.Is(err, transactiondomain.ErrDuplicateDocNumber):
		return true
	default:
		return false
	}
}

func conflictErrorMessage(err error) string {
	switch {
	case errors.Is(err, transactiondomain.ErrInvalidState):
		return "transaction is not in a state that allows this operation"
	case errors.Is(err, taxruledomain.ErrRuleInUse):
		return "rule is referenced by posted transactions"
	case errors.Is(err, exemptiondomain.ErrCertificateInUse):
		return "certificate is referenced by posted transactions"
	default:
		return "conflict"
	}
}

func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, calculationdomain.ErrNoEffectiveRate),
		errors.Is(err, transactiondomain.ErrInvariantViolation):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog tags request log lines with a coarse error type so the
// access log can be filtered without parsing response bodies.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "server_error", payload.Type
	case status >= 400:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
