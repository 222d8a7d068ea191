package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":    "DEBUG",
		" WARNING": "WARN",
		"Error":    "ERROR",
		"trace":    "TRACE",
		"":         "INFO",
		"verbose":  "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestServerLoggerConfig(t *testing.T) {
	cfg := serverLoggerConfig("pixelbot", "debug", "", "pixelbot.bot")
	assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	assert.Equal(t, "DEBUG", cfg.DefaultLevel)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "pixelbot.bot", cfg.StaticFields["namespace"])
	if assert.Len(t, cfg.Sinks, 1) {
		assert.Equal(t, "stderr", cfg.Sinks[0].Console.Stream)
	}

	cfg = serverLoggerConfig("pixelbot", "info", "staging", "")
	assert.Equal(t, "staging", cfg.Environment)
	assert.NotContains(t, cfg.StaticFields, "namespace")
}
