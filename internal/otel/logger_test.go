package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Setenv(levelEnv, "")
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))

	t.Setenv(levelEnv, "error")
	assert.Equal(t, slog.LevelError, ParseLevel(""))
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var (
		buf     bytes.Buffer
		verbose slog.LevelVar
	)
	verbose.Set(slog.LevelInfo)
	log := NewLogger(&verbose, slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))

	log.Info("report_orchestrator.test.event", slog.String("component", "test"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "report_orchestrator.test.event", rec["msg"])
	assert.Equal(t, "test", rec["component"])
}
