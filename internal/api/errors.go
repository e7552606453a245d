// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/trinity/guided-upload/internal/controller"
	"github.com/trinity/guided-upload/internal/flow"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/session"
	"github.com/trinity/guided-upload/internal/stages"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ShowErrorDetails controls whether unexpected errors expose their message.
var ShowErrorDetails = true

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewUnprocessableError creates a 422 error for edits the flow rejects
func NewUnprocessableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "INVALID_EDIT",
		Message: message,
	}
}

// NewBadGatewayError creates a 502 error for backend failures
func NewBadGatewayError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "BACKEND_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// editErrors are rejected user edits.
var editErrors = []error{
	stages.ErrInvalidHeader,
	stages.ErrEmptyColumnName,
	stages.ErrDuplicateColumn,
	stages.ErrInvalidType,
	stages.ErrInvalidRole,
	stages.ErrNoSuggestion,
	stages.ErrStrategyNotAllowed,
	stages.ErrShortcutNotAllowed,
	stages.ErrNoNextFile,
	stages.ErrNoPreviousFile,
	stages.ErrNoFile,
	stages.ErrNotLoaded,
	models.ErrCustomValueRequired,
	flow.ErrEmptyFileName,
	flow.ErrInvalidStage,
}

// flowError converts an error returned by a flow operation to an APIError.
func flowError(err error) *APIError {
	var apiErr *APIError
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, controller.ErrFlowFinished):
		return NewConflictError("flow is finished")
	case errors.Is(err, controller.ErrWrongStage):
		return NewConflictError(err.Error())
	case errors.Is(err, stages.ErrUnknownColumn):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrTooManyFlows):
		return NewServiceUnavailableError(err.Error())
	case errors.As(err, &gwErr):
		return NewBadGatewayError("backend request failed", err)
	}
	for _, target := range editErrors {
		if errors.Is(err, target) {
			return NewUnprocessableError(err.Error())
		}
	}
	return NewInternalError("flow operation failed", err)
}

// validationError converts validator errors to a VALIDATION_ERROR naming the
// failed fields.
func validationError(err error) *APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewBadRequestError("invalid request", err)
	}
	fields := make([]string, 0, len(verrs))
	rules := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
		rules = append(rules, fmt.Sprintf("%s: rule '%s' expected '%s'", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	apiErr := NewValidationError(strings.Join(fields, ", "))
	apiErr.Details = strings.Join(rules, "; ")
	return apiErr
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if ShowErrorDetails {
			apiErr.Details = err.Error()
		}
	}

	c.JSON(apiErr.Status, apiErr)
}
