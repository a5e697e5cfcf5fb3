package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/expertly/internal/authorization"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	pendingorderdomain "github.com/smallbiznis/expertly/internal/pendingorder/domain"
	rebatedomain "github.com/smallbiznis/expertly/internal/rebate/domain"
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
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// domainValidation maps domain sentinels to the request field they reject.
var domainValidation = []struct {
	err     error
	field   string
	message string
}{
	{paymentdomain.ErrAmountManipulation, "amount", "amount does not match the order"},
	{paymentdomain.ErrUnsupportedPaymentType, "paymentType", "unsupported payment type"},
	{paymentdomain.ErrInvalidCancelAmount, "cancelAmount", "cancel amount must be positive and not exceed the remaining amount"},
	{paymentdomain.ErrInvalidQuantity, "quantity", "quantity must be at least 1"},
	{paymentdomain.ErrInvalidAmount, "amount", "invalid amount"},
	{paymentdomain.ErrInvalidReference, "referenceId", "invalid reference"},
	{paymentdomain.ErrInvalidPaymentKey, "paymentKey", "payment key is required"},
	{paymentdomain.ErrInvalidOrderID, "orderId", "order id is required"},
	{paymentdomain.ErrInvalidCancelReason, "cancelReason", "cancel reason is required"},
	{rebatedomain.ErrInvalidPeriod, "yearMonth", "period must be formatted as YYYY-MM"},
}

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

	if vErr, ok := domainValidationError(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{vErr},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, paymentdomain.ErrPaymentNotOwned):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case conflictCode(err) != "":
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictCode(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isGatewayError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment gateway rejected the request",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the error type and the
// sentinel code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func domainValidationError(err error) (ValidationError, bool) {
	if errors.Is(err, ErrInvalidRequest) {
		return ValidationError{Field: "request", Code: ErrInvalidRequest.Error(), Message: "invalid request"}, true
	}
	for _, candidate := range domainValidation {
		if errors.Is(err, candidate.err) {
			return ValidationError{
				Field:   candidate.field,
				Code:    candidate.err.Error(),
				Message: candidate.message,
			}, true
		}
	}
	return ValidationError{}, false
}

func conflictCode(err error) string {
	for _, sentinel := range []error{
		paymentdomain.ErrAlreadyCanceled,
		paymentdomain.ErrAlreadyCompleted,
		paymentdomain.ErrInsufficientStock,
		paymentdomain.ErrCancellationInProgress,
		paymentdomain.ErrConcurrentModification,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrOrderNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrContractNotFound),
		errors.Is(err, paymentdomain.ErrProductNotFound),
		errors.Is(err, paymentdomain.ErrMemberNotFound),
		errors.Is(err, pendingorderdomain.ErrNotFound),
		errors.Is(err, rebatedomain.ErrNotFound),
		errors.Is(err, rebatedomain.ErrExpertNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isGatewayError(err error) bool {
	return errors.Is(err, paymentdomain.ErrGatewayConfirmationFailed) ||
		errors.Is(err, paymentdomain.ErrGatewayCancellationFailed)
}
