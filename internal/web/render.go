package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"evalgo.org/unifiedviews/internal/auth"
	"evalgo.org/unifiedviews/internal/version"
	"evalgo.org/unifiedviews/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFiles embed.FS

func staticFS() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

var funcs = template.FuncMap{
	"fmtTime": func(t interface{}) string {
		switch v := t.(type) {
		case time.Time:
			if v.IsZero() {
				return "-"
			}
			return v.Local().Format("2006-01-02 15:04:05")
		case *time.Time:
			if v == nil || v.IsZero() {
				return "-"
			}
			return v.Local().Format("2006-01-02 15:04:05")
		}
		return "-"
	},
	"statusClass": func(s models.ExecutionStatus) string {
		switch {
		case s == models.ExecutionFailed:
			return "status-error"
		case s.IsSuccess():
			return "status-ok"
		case s == models.ExecutionQueued, s == models.ExecutionRunning, s == models.ExecutionCancelling:
			return "status-running"
		}
		return "status-muted"
	},
	"add":   func(a, b int) int { return a + b },
	"sub":   func(a, b int) int { return a - b },
	"join":  strings.Join,
	"lower": strings.ToLower,
}

// pages holds one template set per page, each combined with the layout.
var pages = mustParsePages()

func mustParsePages() map[string]*template.Template {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		page := strings.TrimSuffix(strings.TrimPrefix(name, "templates/"), ".html")
		if page == "layout" {
			continue
		}
		out[page] = template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", name))
	}
	return out
}

// PageData is passed to every page template.
type PageData struct {
	Title       string
	Active      string
	User        *auth.Claims
	AuthEnabled bool
	CanWrite    bool
	IsAdmin     bool
	Flash       *Flash
	Version     string
	Data        interface{}
}

// Render renders a templ component as the response.
func Render(c echo.Context, component templ.Component) error {
	return RenderStatus(c, http.StatusOK, component)
}

// RenderStatus renders a templ component with the given status code.
func RenderStatus(c echo.Context, status int, component templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return component.Render(c.Request().Context(), c.Response())
}

// Page returns the component of a page template.
func Page(name string, data PageData) (templ.Component, error) {
	t, ok := pages[name]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", name)
	}
	return templ.FromGoHTML(t, data), nil
}

// render renders page name with the common page data filled in.
func (h *Handler) render(c echo.Context, name, title string, data interface{}) error {
	pd := PageData{
		Title:       title,
		Active:      strings.SplitN(name, "_", 2)[0],
		AuthEnabled: h.app.Auth.Enabled(),
		CanWrite:    auth.CanWrite(c),
		IsAdmin:     auth.IsAdmin(c),
		Flash:       takeFlash(c),
		Version:     version.GetVersion(),
		Data:        data,
	}
	if claims, ok := auth.GetClaims(c); ok {
		pd.User = claims
	}
	component, err := Page(name, pd)
	if err != nil {
		return err
	}
	return Render(c, component)
}

// fail renders the error page.
func (h *Handler) fail(c echo.Context, status int, message string) error {
	pd := PageData{
		Title:       http.StatusText(status),
		AuthEnabled: h.app.Auth.Enabled(),
		Version:     version.GetVersion(),
		Data:        message,
	}
	if claims, ok := auth.GetClaims(c); ok {
		pd.User = claims
	}
	component, err := Page("error", pd)
	if err != nil {
		return err
	}
	return RenderStatus(c, status, component)
}
