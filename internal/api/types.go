package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/models"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// UserResponse is a user without its password hash.
type UserResponse struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	FullName    string        `json:"name,omitempty"`
	Email       string        `json:"email,omitempty"`
	Roles       []models.Role `json:"roles"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastLoginAt *time.Time    `json:"last_login_at,omitempty"`
}

func toUserResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		FullName:    u.FullName,
		Email:       u.Email,
		Roles:       u.Roles,
		Enabled:     u.Enabled,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// bind decodes the request into req and validates its struct tags.
func (s *Server) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if res := s.app.Validator.Struct(req); !res.Valid {
		return validationFailed(res)
	}
	return nil
}

// forbidden is returned when the caller does not own a record.
func forbidden(resource, id string) *APIError {
	return &APIError{
		Code:    403,
		Message: "Forbidden",
		Details: resource + " belongs to another user",
		Context: map[string]interface{}{"id": id},
	}
}
