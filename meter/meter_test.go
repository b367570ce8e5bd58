package meter_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/meter"
)

func TestZapMeter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := meter.NewZapMeter(zap.New(core))

	m.OnRoute(genrouter.RouteEvent{Strategy: "adaptive", Provider: "runway", AccountID: "r1", Model: "gen4", Tier: genrouter.TierStandard, AttemptNum: 1, FailoverFrom: "kling"})
	m.OnResult(genrouter.ResultEvent{Provider: "runway", AccountID: "r1", Model: "gen4", Success: true, Duration: time.Second, Credits: 12, Cost: 0.12})
	m.OnResult(genrouter.ResultEvent{Provider: "kling", AccountID: "k1", Model: "kling-2", Error: errors.New("boom")})
	m.OnFailover(genrouter.FailoverEvent{Primary: "kling", Alternate: "runway", Active: true})
	m.OnFailover(genrouter.FailoverEvent{Primary: "kling", Alternate: "runway"})
	m.OnSinkError(genrouter.SinkErrorEvent{RecordID: "rec-1", Error: errors.New("sink down")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 6)

	assert.Equal(t, "route", entries[0].Message)
	assert.Equal(t, "kling", entries[0].ContextMap()["failover_from"])

	assert.Equal(t, "result", entries[1].Message)
	assert.Equal(t, 12.0, entries[1].ContextMap()["credits"])

	assert.Equal(t, "result_error", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])

	assert.Equal(t, "failover_activated", entries[3].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Equal(t, "service_restored", entries[4].Message)

	assert.Equal(t, "usage_sink_error", entries[5].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[5].Level)
	assert.Equal(t, "rec-1", entries[5].ContextMap()["record"])
}

func TestNewZapMeter_NilLogger(t *testing.T) {
	m := meter.NewZapMeter(nil)
	require.NotNil(t, m.Logger)
	m.OnRoute(genrouter.RouteEvent{})
}

func TestLogMeter(t *testing.T) {
	var buf bytes.Buffer
	m := meter.NewLogMeter(slog.New(slog.NewTextHandler(&buf, nil)))

	m.OnRoute(genrouter.RouteEvent{Strategy: "balanced", Provider: "kling", AccountID: "k1", Model: "kling-2"})
	m.OnFailover(genrouter.FailoverEvent{Primary: "kling", Alternate: "runway", Active: true})
	m.OnSinkError(genrouter.SinkErrorEvent{RecordID: "rec-1", Error: errors.New("sink down")})

	out := buf.String()
	assert.Contains(t, out, "msg=route")
	assert.Contains(t, out, "account=k1")
	assert.Contains(t, out, "msg=failover_activated")
	assert.Contains(t, out, "level=ERROR msg=usage_sink_error")
}

func TestNoopMeter(t *testing.T) {
	var m genrouter.Meter = &meter.NoopMeter{}
	m.OnRoute(genrouter.RouteEvent{})
	m.OnResult(genrouter.ResultEvent{})
	m.OnFailover(genrouter.FailoverEvent{})
	m.OnSinkError(genrouter.SinkErrorEvent{})
}
