package logging

import (
	"bytes"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"

	"evalgo.org/unifiedviews/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Lvl
	}{
		{"debug", log.DEBUG},
		{"DEBUG", log.DEBUG},
		{"info", log.INFO},
		{"", log.INFO},
		{"warn", log.WARN},
		{"warning", log.WARN},
		{"error", log.ERROR},
		{"off", log.OFF},
		{"verbose", log.INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LoggingConfig{Level: "warn", Format: "text"}, "browse", &buf)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warnf("query %s failed", "q1")
	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "[browse]")
	assert.Contains(t, out, "query q1 failed")
}

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LoggingConfig{Level: "debug", Format: "json"}, "api", &buf)

	l.Debug("hello")
	assert.Contains(t, buf.String(), `"prefix":"api"`)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.Equal(t, log.OFF, l.Level())
	l.Error("nothing")
}
