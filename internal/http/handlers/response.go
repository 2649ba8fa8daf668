package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-reminder-agent/internal/http/middleware"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/services"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"client not found"`
}

// DuplicateResponse is the 409 body for a repeated action. Result is what
// the first occurrence produced.
type DuplicateResponse struct {
	OK        bool                `json:"ok" example:"false"`
	Duplicate bool                `json:"duplicate" example:"true"`
	Result    *idempotency.Result `json:"result,omitempty"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failService maps the services error taxonomy onto HTTP.
func failService(c *gin.Context, err error) {
	var dup *services.DuplicateError
	var q *services.QuotaError
	switch {
	case errors.As(err, &dup):
		c.AbortWithStatusJSON(http.StatusConflict, DuplicateResponse{Duplicate: true, Result: dup.Existing})
	case errors.As(err, &q):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, q.Decision.Reason)
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidLocale),
		errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrAgentDisabled):
		fail(c, http.StatusForbidden, ErrCodeAgentDisabled, err.Error())
	case errors.Is(err, services.ErrProvider):
		fail(c, http.StatusBadGateway, ErrCodeProviderFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
