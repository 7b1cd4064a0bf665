package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLoggerFormats(t *testing.T) {
	_, isJSON := setupLogger("info", "json").Handler().(*slog.JSONHandler)
	assert.True(t, isJSON, "json format builds a JSON handler")

	_, isText := setupLogger("info", "text").Handler().(*slog.TextHandler)
	assert.True(t, isText, "text format builds a text handler")

	// Unknown formats fall back to text, the configuration default.
	_, isText = setupLogger("info", "yaml").Handler().(*slog.TextHandler)
	assert.True(t, isText)
	_, isText = setupLogger("info", "").Handler().(*slog.TextHandler)
	assert.True(t, isText)
}

func TestSetupLoggerLevels(t *testing.T) {
	ctx := context.Background()

	assert.True(t, setupLogger("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, setupLogger("info", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, setupLogger("warn", "text").Enabled(ctx, slog.LevelInfo))
	assert.False(t, setupLogger("error", "text").Enabled(ctx, slog.LevelWarn))

	// Unknown levels fall back to info.
	assert.True(t, setupLogger("verbose", "text").Enabled(ctx, slog.LevelInfo))
	assert.False(t, setupLogger("verbose", "text").Enabled(ctx, slog.LevelDebug))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}
