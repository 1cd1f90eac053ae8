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

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RequestID(ctx))
	assert.Equal(t, "", ShareID(ctx))
	assert.Equal(t, "", UserID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithShareID(ctx, "share-9")
	ctx = WithUserID(ctx, "user-42")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "share-9", ShareID(ctx))
	assert.Equal(t, "user-42", UserID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithShareID(WithRequestID(context.Background(), "req-abc"), "s-1")
	LogWith(ctx, logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-abc")
	assert.Contains(t, out, "share_id=s-1")
	assert.NotContains(t, out, "user_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithUserID(WithRequestID(context.Background(), "r-7"), "u-1")
	logger.InfoContext(ctx, "generated", "nodes", 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "r-7", rec["request_id"])
	assert.Equal(t, "u-1", rec["user_id"])
	assert.Equal(t, float64(4), rec["nodes"])
	_, hasShare := rec["share_id"]
	assert.False(t, hasShare)
}

func TestCorrelationHandler_WithAttrsKeepsLevel(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).WithLevel(lv))

	child := logger.With("component", "render").WithGroup("g")
	child.Info("dropped")
	assert.Empty(t, buf.String())

	child.Warn("kept")
	assert.Contains(t, buf.String(), "component=render")
}

func TestNew_LevelChangesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)

	logger, err := New(&buf, Options{Format: FormatJSON, Level: lv})
	require.NoError(t, err)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	lv.Set(slog.LevelDebug)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatText, FormatPretty} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, Options{Format: format})
			require.NoError(t, err)
			logger.InfoContext(WithRequestID(context.Background(), "rid"), "served")
			assert.Contains(t, buf.String(), "served")
			assert.Contains(t, buf.String(), "rid")
		})
	}

	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
