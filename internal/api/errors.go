package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/audiopolicy/internal/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// statusForError maps a policy error category to an HTTP status.
func statusForError(err error) int {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Category {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryOwnership:
		return http.StatusForbidden
	case errors.CategoryState, errors.CategoryConflict, errors.CategoryConcurrency:
		return http.StatusConflict
	case errors.CategoryLimit, errors.CategoryNotInitialized:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError logs err under a correlation id and writes the error body.
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	if code == 0 {
		code = statusForError(err)
	}
	resp := &ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.logger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", c.Request().URL.Path,
		"ip", c.RealIP(),
	)
	return c.JSON(code, resp)
}
