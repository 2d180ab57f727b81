package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// parsePagination parses limit and offset from query parameters.
// Default limit is 100, default offset is 0.
// Maximum limit is 1000 to prevent excessive memory usage.
func parsePagination(c echo.Context) (limit, offset int) {
	limit = defaultLimit
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset = 0
	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if parsed, err := strconv.Atoi(offsetParam); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// paginate applies limit and offset to a slice.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}

	end := offset + limit
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end]
}

// ListResponse is the envelope of paginated list endpoints.
type ListResponse[T any] struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}

// listResponse paginates items and wraps them in a ListResponse.
func listResponse[T any](c echo.Context, items []T) ListResponse[T] {
	limit, offset := parsePagination(c)
	page := paginate(items, limit, offset)
	return ListResponse[T]{
		Count:  len(page),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
		Items:  page,
	}
}
