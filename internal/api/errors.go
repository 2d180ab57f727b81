package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/browse"
	"evalgo.org/unifiedviews/internal/cleanup"
	"evalgo.org/unifiedviews/internal/dpu"
	"evalgo.org/unifiedviews/internal/pipeline"
	"evalgo.org/unifiedviews/internal/sparql"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/internal/triplestore"
	"evalgo.org/unifiedviews/internal/validation"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

// validationFailed converts a failed validation result into an APIError.
func validationFailed(result *validation.ValidationResult) *APIError {
	fields := make(map[string]string, len(result.Errors))
	for _, e := range result.Errors {
		fields[e.Field] = e.Message
	}
	return ValidationError("Validation failed", fields)
}

// domainError maps the sentinel errors of the domain packages to an APIError.
// It returns nil for errors it does not know.
func domainError(err error) *APIError {
	var result *validation.ValidationResult
	if errors.As(err, &result) {
		return validationFailed(result)
	}

	var code int
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, browse.ErrDataUnitNotFound):
		code = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, cleanup.ErrNotFinished),
		errors.Is(err, dpu.ErrTemplateInUse),
		errors.Is(err, pipeline.ErrActive),
		errors.Is(err, cleanup.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, sparql.ErrMalformedQuery),
		errors.Is(err, sparql.ErrUnsupportedQuery),
		errors.Is(err, sparql.ErrUnknownVariable),
		errors.Is(err, browse.ErrNotRDF),
		errors.Is(err, browse.ErrUnsupportedFormat),
		errors.Is(err, browse.ErrUnknownQuery),
		errors.Is(err, pipeline.ErrInvalid),
		errors.Is(err, pipeline.ErrCycle),
		errors.Is(err, dpu.ErrInvalidArchive),
		errors.Is(err, dpu.ErrNoJar),
		errors.Is(err, dpu.ErrInvalidJarName),
		errors.Is(err, dpu.ErrInvalidType),
		errors.Is(err, dpu.ErrChildTemplate):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserDisabled):
		code = http.StatusUnauthorized
	case errors.Is(err, triplestore.ErrQueryFailed):
		code = http.StatusBadGateway
	case triplestore.IsCanceled(err):
		code = http.StatusGatewayTimeout
	default:
		return nil
	}
	return NewAPIError(code, getHTTPMessage(code), err.Error())
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	code := http.StatusInternalServerError

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		apiErr = &APIError{
			Code:    code,
			Message: getHTTPMessage(code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	case errors.As(err, &apiErr):
		code = apiErr.Code
	default:
		if mapped := domainError(err); mapped != nil {
			apiErr = mapped
			code = mapped.Code
		} else {
			apiErr = &APIError{
				Code:    code,
				Message: "Internal server error",
				Details: err.Error(),
			}
		}
	}

	if code >= http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, apiErr)
	}
	if err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:            "Bad request",
		http.StatusUnauthorized:          "Unauthorized",
		http.StatusForbidden:             "Forbidden",
		http.StatusNotFound:              "Resource not found",
		http.StatusMethodNotAllowed:      "Method not allowed",
		http.StatusConflict:              "Conflict",
		http.StatusRequestEntityTooLarge: "Request entity too large",
		http.StatusUnprocessableEntity:   "Unprocessable entity",
		http.StatusTooManyRequests:       "Too many requests",
		http.StatusInternalServerError:   "Internal server error",
		http.StatusBadGateway:            "Bad gateway",
		http.StatusServiceUnavailable:    "Service unavailable",
		http.StatusGatewayTimeout:        "Gateway timeout",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
