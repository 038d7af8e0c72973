package server

import (
	"errors"
	"net/http"

	"github.com/casaops/rentledger/internal/billing"
	contactdomain "github.com/casaops/rentledger/internal/contact/domain"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	insurancedomain "github.com/casaops/rentledger/internal/insurance/domain"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	propertydomain "github.com/casaops/rentledger/internal/property/domain"
	"github.com/casaops/rentledger/pkg/db"
	"github.com/gin-gonic/gin"
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
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrOverpayment):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "overpayment",
			Message: "payment exceeds the invoice balance",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
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
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billing.ErrInvalidCharge),
		errors.Is(err, billing.ErrInvalidPolicy),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, contactdomain.ErrInvalidOrganization),
		errors.Is(err, propertydomain.ErrInvalidOrganization),
		errors.Is(err, insurancedomain.ErrInvalidOrganization),
		errors.Is(err, contractdomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidOrganization),
		errors.Is(err, paymentdomain.ErrInvalidOrganization),
		errors.Is(err, contactdomain.ErrInvalidKind),
		errors.Is(err, contactdomain.ErrInvalidName),
		errors.Is(err, propertydomain.ErrInvalidName),
		errors.Is(err, insurancedomain.ErrInvalidPolicy),
		errors.Is(err, contractdomain.ErrInvalidContract),
		errors.Is(err, invoicedomain.ErrInvalidInvoice),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidMethod):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, contractdomain.ErrContractNotDraft),
		errors.Is(err, contractdomain.ErrOverlappingContract),
		errors.Is(err, contractdomain.ErrContractHasInvoices),
		errors.Is(err, invoicedomain.ErrInvoiceNotDraft),
		errors.Is(err, invoicedomain.ErrInvoiceHasPayments),
		errors.Is(err, paymentdomain.ErrInvoiceNotPayable):
		return true
	default:
		return db.IsDuplicateKeyErr(err)
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, contactdomain.ErrContactNotFound),
		errors.Is(err, propertydomain.ErrPropertyNotFound),
		errors.Is(err, insurancedomain.ErrPolicyNotFound),
		errors.Is(err, contractdomain.ErrContractNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrChargeNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrInvoiceNotFound):
		return true
	default:
		return false
	}
}
