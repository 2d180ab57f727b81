package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/models"
)

// CreateUserRequest represents a user creation request
type CreateUserRequest struct {
	Username string        `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string        `json:"password" validate:"required,min=8"`
	FullName string        `json:"name,omitempty" validate:"max=128"`
	Email    string        `json:"email,omitempty" validate:"omitempty,email"`
	Roles    []models.Role `json:"roles" validate:"required,min=1,dive,oneof=admin user viewer"`
}

// UpdateUserRequest represents a user update request
type UpdateUserRequest struct {
	FullName *string        `json:"name,omitempty"`
	Email    *string        `json:"email,omitempty" validate:"omitempty,email"`
	Enabled  *bool          `json:"enabled,omitempty"`
	Roles    *[]models.Role `json:"roles,omitempty" validate:"omitempty,min=1,dive,oneof=admin user viewer"`
	Password *string        `json:"password,omitempty" validate:"omitempty,min=8"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// listUsers handles GET /api/v1/users
func (s *Server) listUsers(c echo.Context) error {
	users, err := s.app.Store.ListUsers()
	if err != nil {
		return InternalError("Failed to list users", err.Error())
	}

	response := make([]*UserResponse, len(users))
	for i, user := range users {
		response[i] = toUserResponse(user)
	}
	return c.JSON(http.StatusOK, listResponse(c, response))
}

// createUser handles POST /api/v1/users
func (s *Server) createUser(c echo.Context) error {
	var req CreateUserRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return InternalError("Failed to hash password", err.Error())
	}

	user := models.NewUser(strings.TrimSpace(req.Username), req.Roles...)
	user.FullName = req.FullName
	user.Email = req.Email
	user.PasswordHash = hash
	if err := s.app.Store.SaveUser(user); err != nil {
		return err
	}

	s.logger.Infof("User %s created by %s", user.Username, auth.Actor(c))
	return c.JSON(http.StatusCreated, toUserResponse(user))
}

// getUser handles GET /api/v1/users/:id
func (s *Server) getUser(c echo.Context) error {
	user, err := s.app.Store.GetUser(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// updateUser handles PUT /api/v1/users/:id
func (s *Server) updateUser(c echo.Context) error {
	user, err := s.app.Store.GetUser(c.Param("id"))
	if err != nil {
		return err
	}

	var req UpdateUserRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Enabled != nil {
		if !*req.Enabled && user.Username == auth.Actor(c) {
			return BadRequestError("Invalid update", "you cannot disable your own account")
		}
		user.Enabled = *req.Enabled
	}
	if req.Roles != nil {
		if user.Username == auth.Actor(c) && user.IsAdmin() && !containsRole(*req.Roles, models.RoleAdmin) {
			return BadRequestError("Invalid update", "you cannot remove your own admin role")
		}
		user.Roles = *req.Roles
	}
	if req.Password != nil {
		if user.PasswordHash, err = auth.HashPassword(*req.Password); err != nil {
			return InternalError("Failed to hash password", err.Error())
		}
	}
	user.UpdatedAt = time.Now()

	if err := s.app.Store.SaveUser(user); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// deleteUser handles DELETE /api/v1/users/:id
func (s *Server) deleteUser(c echo.Context) error {
	user, err := s.app.Store.GetUser(c.Param("id"))
	if err != nil {
		return err
	}
	if user.Username == auth.Actor(c) {
		return BadRequestError("Invalid request", "you cannot delete your own account")
	}
	if err := s.app.Store.DeleteUser(user.ID); err != nil {
		return err
	}

	s.logger.Infof("User %s deleted by %s", user.Username, auth.Actor(c))
	return c.JSON(http.StatusOK, MessageResponse{Message: "user deleted", ID: user.ID})
}

// changePassword handles POST /api/v1/users/password
func (s *Server) changePassword(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok || !s.app.Auth.Enabled() {
		return BadRequestError("Invalid request", "password change requires an authenticated user")
	}

	var req ChangePasswordRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	user, err := s.app.Store.GetUser(claims.UserID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(req.CurrentPassword, user.PasswordHash); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "current password is incorrect")
	}
	if user.PasswordHash, err = auth.HashPassword(req.NewPassword); err != nil {
		return InternalError("Failed to hash password", err.Error())
	}
	user.UpdatedAt = time.Now()
	if err := s.app.Store.SaveUser(user); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "password changed"})
}

func containsRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
