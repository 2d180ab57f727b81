package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/models"
)

const (
	// ContextKeyClaims is the key for storing JWT claims in context
	ContextKeyClaims = "claims"

	// SessionCookie carries the access token of a browser session.
	SessionCookie = "uv_session"

	// Anonymous is the actor name used when authentication is disabled.
	Anonymous = "anonymous"
)

// anonymousClaims stand in for a user when authentication is disabled; every
// request then acts as an administrator.
var anonymousClaims = &Claims{
	UserID:   "user:" + Anonymous,
	Username: Anonymous,
	Roles:    []models.Role{models.RoleAdmin},
}

// Middleware is the authentication middleware
type Middleware struct {
	jwtService *JWTService
	enabled    bool
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg config.SecurityConfig, jwtService *JWTService) *Middleware {
	return &Middleware{
		jwtService: jwtService,
		enabled:    cfg.AuthEnabled,
	}
}

// Enabled reports whether requests must authenticate.
func (m *Middleware) Enabled() bool {
	return m.enabled
}

// authenticate reads the token from the Authorization header or the session
// cookie and stores the claims in the context.
func (m *Middleware) authenticate(c echo.Context) error {
	if !m.enabled {
		c.Set(ContextKeyClaims, anonymousClaims)
		return nil
	}

	var tokenString string
	if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
		}
		tokenString = parts[1]
	} else if cookie, err := c.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		tokenString = cookie.Value
	} else {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	claims, err := m.jwtService.ValidateToken(tokenString)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	c.Set(ContextKeyClaims, claims)
	return nil
}

// RequireAuth is middleware that requires JWT authentication
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.authenticate(c); err != nil {
			return err
		}
		return next(c)
	}
}

// RequireSession is RequireAuth for HTML pages: unauthenticated requests are
// redirected to loginPath.
func (m *Middleware) RequireSession(loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := m.authenticate(c); err != nil {
				ClearSessionCookie(c)
				return c.Redirect(http.StatusSeeOther, loginPath)
			}
			return next(c)
		}
	}
}

// RequireRole is middleware that requires one of roles. It must run after
// RequireAuth or RequireSession.
func (m *Middleware) RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := GetClaims(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
		}
	}
}

// RequireAdmin is middleware that requires admin role
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(models.RoleAdmin)(next)
}

// RequireWrite is middleware that requires write permissions (admin or user role)
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(models.RoleAdmin, models.RoleUser)(next)
}

// SetSessionCookie stores an access token for browser requests.
func SetSessionCookie(c echo.Context, token *Token) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token.AccessToken,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie ends a browser session.
func ClearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// GetClaims extracts JWT claims from Echo context
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// Actor returns the username behind the request for ownership and logging.
func Actor(c echo.Context) string {
	if claims, ok := GetClaims(c); ok {
		return claims.Username
	}
	return Anonymous
}

// HasRole checks if the current user has a specific role
func HasRole(c echo.Context, role models.Role) bool {
	claims, ok := GetClaims(c)
	return ok && claims.HasRole(role)
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c echo.Context) bool {
	return HasRole(c, models.RoleAdmin)
}

// CanWrite checks if the current user can write
func CanWrite(c echo.Context) bool {
	return HasRole(c, models.RoleAdmin) || HasRole(c, models.RoleUser)
}

// Visible reports whether the caller may see a record owned by owner.
func Visible(c echo.Context, owner string, visibility models.Visibility) bool {
	return visibility == models.VisibilityPublic || Owns(c, owner)
}

// Owns reports whether the caller may modify a record owned by owner.
// Records without an owner belong to everyone.
func Owns(c echo.Context, owner string) bool {
	return IsAdmin(c) || owner == "" || owner == Actor(c)
}
