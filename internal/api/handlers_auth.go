package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	*auth.Token
	User *UserResponse `json:"user"`
}

// login handles POST /api/v1/auth/login
func (s *Server) login(c echo.Context) error {
	var req LoginRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	user, err := auth.Authenticate(s.app.Store, req.Username, req.Password)
	if err != nil {
		s.logger.Warnf("Failed login for %q from %s: %v", req.Username, c.RealIP(), err)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	token, err := s.app.JWT.GenerateToken(user)
	if err != nil {
		return InternalError("Failed to generate token", err.Error())
	}

	s.logger.Infof("User %s logged in", user.Username)
	return c.JSON(http.StatusOK, LoginResponse{Token: token, User: toUserResponse(user)})
}

// logout handles POST /api/v1/auth/logout. Tokens are stateless; the
// session cookie of browser clients is cleared.
func (s *Server) logout(c echo.Context) error {
	auth.ClearSessionCookie(c)
	return c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// me handles GET /api/v1/auth/me
func (s *Server) me(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !s.app.Auth.Enabled() {
		return c.JSON(http.StatusOK, &UserResponse{
			ID:       claims.UserID,
			Username: claims.Username,
			Roles:    claims.Roles,
			Enabled:  true,
		})
	}

	user, err := s.app.Store.GetUser(claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}
