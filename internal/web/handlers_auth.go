package web

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
)

// LoginPage renders the login page.
func (h *Handler) LoginPage(c echo.Context) error {
	if !h.app.Auth.Enabled() {
		return c.Redirect(http.StatusFound, Prefix+"/")
	}
	return h.render(c, "login", "Sign in", nil)
}

// Login handles the login form.
func (h *Handler) Login(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	if username == "" || password == "" {
		return redirectError(c, loginPath, "Username and password are required")
	}

	user, err := auth.Authenticate(h.app.Store, username, password)
	if err != nil {
		if errors.Is(err, auth.ErrUserDisabled) {
			return redirectError(c, loginPath, "Account is disabled")
		}
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Errorf("Login of %s failed: %v", username, err)
		}
		return redirectError(c, loginPath, "Invalid username or password")
	}

	token, err := h.app.JWT.GenerateToken(user)
	if err != nil {
		h.logger.Errorf("Failed to generate token for %s: %v", username, err)
		return redirectError(c, loginPath, "Login failed")
	}
	auth.SetSessionCookie(c, token)
	h.logger.Infof("User %s signed in to the web UI", user.Username)
	return c.Redirect(http.StatusSeeOther, Prefix+"/")
}

// Logout ends the session.
func (h *Handler) Logout(c echo.Context) error {
	auth.ClearSessionCookie(c)
	return c.Redirect(http.StatusSeeOther, loginPath)
}
