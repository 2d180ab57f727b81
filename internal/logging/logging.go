// Package logging builds the gommon loggers shared by Echo and the
// UnifiedViews components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
)

// TextHeader is the header used for the text format.
const TextHeader = "${time_rfc3339} ${level} [${prefix}]"

// New creates a logger for a component. The level and header follow the
// logging section of the configuration.
func New(cfg config.LoggingConfig, prefix string) *log.Logger {
	return NewWithOutput(cfg, prefix, os.Stdout)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(cfg config.LoggingConfig, prefix string, w io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(w)
	l.SetLevel(ParseLevel(cfg.Level))
	if strings.EqualFold(cfg.Format, "text") {
		l.SetHeader(TextHeader)
	}
	return l
}

// ParseLevel maps a level name onto a gommon level. Unknown names fall back to
// INFO.
func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "info", "":
		return log.INFO
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *log.Logger {
	l := log.New("-")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}
