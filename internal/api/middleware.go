package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/models"
)

// bodyContentTypes are the request bodies the API accepts: JSON and JSON-LD
// documents, DPU uploads and pipeline YAML imports.
var bodyContentTypes = []string{
	echo.MIMEApplicationJSON,
	"application/ld+json",
	echo.MIMEMultipartForm,
	"application/yaml",
	"application/x-yaml",
	"text/yaml",
}

// ValidateContentType middleware ensures that requests with a body have a supported Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
			// Allow empty body for some requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			contentType := c.Request().Header.Get(echo.HeaderContentType)
			for _, allowed := range bodyContentTypes {
				if strings.HasPrefix(contentType, allowed) {
					return next(c)
				}
			}
			return BadRequestError(
				"Invalid Content-Type",
				"Content-Type must be one of "+strings.Join(bodyContentTypes, ", ")+". Got: "+contentType,
			)
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"This endpoint only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates that resource IDs follow expected patterns
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		// If no ID param, skip validation
		if id == "" {
			return next(c)
		}

		if strings.ContainsAny(id, " \t\n") {
			return BadRequestError(
				"Invalid ID format",
				"ID cannot contain spaces",
			)
		}

		if len(id) < 3 {
			return BadRequestError(
				"Invalid ID format",
				"ID must be at least 3 characters long",
			)
		}

		if len(id) > 256 {
			return BadRequestError(
				"Invalid ID format",
				"ID must not exceed 256 characters",
			)
		}

		return next(c)
	}
}

// ValidateQueryParams middleware validates the status and type filters of list operations
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if status := c.QueryParam("status"); status != "" {
			for _, s := range strings.Split(status, ",") {
				if !validExecutionStatus(models.ExecutionStatus(s)) {
					return BadRequestError(
						"Invalid status parameter",
						"Status must be one of: QUEUED, RUNNING, CANCELLING, CANCELLED, FAILED, FINISHED_SUCCESS, FINISHED_WARNING. Got: "+s,
					)
				}
			}
		}

		if dpuType := c.QueryParam("type"); dpuType != "" && !models.DPUType(dpuType).Valid() {
			return BadRequestError(
				"Invalid type parameter",
				"Type must be one of: extractor, transformer, loader, quality. Got: "+dpuType,
			)
		}

		return next(c)
	}
}

func validExecutionStatus(s models.ExecutionStatus) bool {
	switch s {
	case models.ExecutionQueued, models.ExecutionRunning, models.ExecutionCancelling:
		return true
	}
	return s.IsFinished()
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}
