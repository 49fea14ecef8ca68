package utils

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogHandler(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		handler, err := newLogHandler(&buf, HandlerTypeJSON, LogLevelWarn)
		require.NoError(t, err)
		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, handler.Enabled(context.Background(), slog.LevelWarn))
		slog.New(handler).Warn("Something happened.", "key", "value")
		assert.Contains(t, buf.String(), `"key":"value"`)
	})
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		handler, err := newLogHandler(&buf, HandlerTypeText, LogLevelDebug)
		require.NoError(t, err)
		assert.True(t, handler.Enabled(context.Background(), slog.LevelDebug))
		slog.New(handler).Debug("Something happened.", "key", "value")
		assert.Contains(t, buf.String(), "key=value")
	})
	t.Run("unsupported", func(t *testing.T) {
		_, err := newLogHandler(&bytes.Buffer{}, "xml", LogLevelInfo)
		assert.Error(t, err)
		_, err = newLogHandler(&bytes.Buffer{}, HandlerTypeJSON, "verbose")
		assert.Error(t, err)
	})
}

func TestInitLogging(t *testing.T) {
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })

	SetTestFlag(t, "log_handler_type", "TEXT")
	SetTestFlag(t, "log_level", "error")
	assert.NoError(t, InitLogging())

	SetTestFlag(t, "log_level", "loud")
	assert.Error(t, InitLogging())
}
