package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string // success, error
	Message string
}

func setFlash(c echo.Context, kind, message string) {
	c.SetCookie(&http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + ":" + message),
		Path:     Prefix,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash reads and clears the flash message.
func takeFlash(c echo.Context) *Flash {
	cookie, err := c.Cookie(flashCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	c.SetCookie(&http.Cookie{Name: flashCookie, Path: Prefix, MaxAge: -1})

	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(value, ":")
	if !ok {
		return nil
	}
	return &Flash{Kind: kind, Message: message}
}

// redirectOK redirects to path with a success message.
func redirectOK(c echo.Context, path, message string) error {
	setFlash(c, "success", message)
	return c.Redirect(http.StatusSeeOther, path)
}

// redirectError redirects to path with an error message.
func redirectError(c echo.Context, path, message string) error {
	setFlash(c, "error", message)
	return c.Redirect(http.StatusSeeOther, path)
}
