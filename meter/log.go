package meter

import (
	"context"
	"log/slog"

	"github.com/ineyio/genrouter"
)

// LogMeter writes routing events to a slog logger.
type LogMeter struct {
	Logger *slog.Logger
}

var _ genrouter.Meter = (*LogMeter)(nil)

// NewLogMeter wraps logger, falling back to slog.Default().
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func target(provider, account, model string, free bool) []slog.Attr {
	return []slog.Attr{
		slog.String("provider", provider),
		slog.String("account", account),
		slog.String("model", model),
		slog.Bool("free", free),
	}
}

func (m *LogMeter) OnRoute(e genrouter.RouteEvent) {
	attrs := append(target(e.Provider, e.AccountID, e.Model, e.Free),
		slog.String("strategy", e.Strategy),
		slog.String("tier", string(e.Tier)),
		slog.Int("attempt", e.AttemptNum),
	)
	if e.FailoverFrom != "" {
		attrs = append(attrs, slog.String("failover_from", e.FailoverFrom))
	}
	m.Logger.LogAttrs(context.Background(), slog.LevelInfo, "route", attrs...)
}

func (m *LogMeter) OnResult(e genrouter.ResultEvent) {
	attrs := append(target(e.Provider, e.AccountID, e.Model, e.Free),
		slog.Int64("duration_ms", e.Duration.Milliseconds()))
	if !e.Success {
		attrs = append(attrs, slog.Any("error", e.Error))
		m.Logger.LogAttrs(context.Background(), slog.LevelWarn, "result_error", attrs...)
		return
	}
	attrs = append(attrs, slog.Float64("credits", e.Credits), slog.Float64("cost_usd", e.Cost))
	m.Logger.LogAttrs(context.Background(), slog.LevelInfo, "result", attrs...)
}

func (m *LogMeter) OnFailover(e genrouter.FailoverEvent) {
	msg, level := "service_restored", slog.LevelInfo
	if e.Active {
		msg, level = "failover_activated", slog.LevelWarn
	}
	m.Logger.LogAttrs(context.Background(), level, msg,
		slog.String("primary", e.Primary),
		slog.String("alternate", e.Alternate))
}

func (m *LogMeter) OnSinkError(e genrouter.SinkErrorEvent) {
	m.Logger.LogAttrs(context.Background(), slog.LevelError, "usage_sink_error",
		slog.String("record", e.RecordID),
		slog.Any("error", e.Error))
}
