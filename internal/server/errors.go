package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"github.com/permipay/permipay/pkg/types"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
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
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
	ErrInternal        = errors.New("internal_error")
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

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}

	case isValidationError(err):
		code := err.Error()
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

	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}

	// Payment Required for the two budget-state rejections: the permission
	// exists but cannot fund the call.
	case errors.Is(err, permissiondomain.ErrPermissionExpired):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "permission_expired",
			Message: "permission expired",
		}
	case errors.Is(err, permissiondomain.ErrBudgetExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "budget_exceeded",
			Message: "spending limit exceeded",
		}

	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "rate limit exceeded",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, permissiondomain.ErrInvalidUser),
		errors.Is(err, permissiondomain.ErrInvalidLimit),
		errors.Is(err, permissiondomain.ErrInvalidExpiry),
		errors.Is(err, permissiondomain.ErrInvalidCost),
		errors.Is(err, executiondomain.ErrInvalidUser),
		errors.Is(err, executiondomain.ErrInvalidPageSize),
		errors.Is(err, executiondomain.ErrInvalidPageToken),
		errors.Is(err, executiondomain.ErrInvalidServiceType),
		errors.Is(err, statsdomain.ErrInvalidDate),
		errors.Is(err, statsdomain.ErrInvalidRange),
		errors.Is(err, ingestdomain.ErrMalformedEvent),
		errors.Is(err, ingestdomain.ErrUnknownEvent),
		errors.Is(err, types.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, permissiondomain.ErrNoPermission),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
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

func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case isValidationError(err):
		return "validation", err.Error()
	case isNotFoundError(err):
		return "not_found", err.Error()
	case errors.Is(err, permissiondomain.ErrPermissionExpired),
		errors.Is(err, permissiondomain.ErrBudgetExceeded):
		return "rejected", err.Error()
	case errors.Is(err, ErrTooManyRequests):
		return "rate_limited", err.Error()
	default:
		return "internal", err.Error()
	}
}
