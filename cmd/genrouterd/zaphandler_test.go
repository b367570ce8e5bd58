package main

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := slog.New(newZapHandler(zap.New(core)))

	logger.Debug("dropped")
	logger.Info("account status changed", "account", "k1", "from", "HEALTHY", "credits", 12.5, "consecutive_errors", 3)
	logger.With("provider", "kling").WithGroup("probe").Warn("health check balance errors",
		"error", errors.New("boom"), "took", time.Second, slog.Group("http", "status", 502))
	logger.Error("panic in account health check", "panic", "nil map")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "account status changed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "k1", ctx["account"])
	assert.Equal(t, 12.5, ctx["credits"])
	assert.Equal(t, int64(3), ctx["consecutive_errors"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	ctx = entries[1].ContextMap()
	assert.Equal(t, "kling", ctx["provider"])
	assert.Equal(t, "boom", ctx["probe.error"])
	assert.Equal(t, time.Second, ctx["probe.took"])
	assert.Equal(t, int64(502), ctx["probe.http.status"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zapLevel(slog.LevelDebug))
	assert.Equal(t, zapcore.InfoLevel, zapLevel(slog.LevelInfo))
	assert.Equal(t, zapcore.WarnLevel, zapLevel(slog.LevelWarn+1))
	assert.Equal(t, zapcore.ErrorLevel, zapLevel(slog.LevelError+4))
}
