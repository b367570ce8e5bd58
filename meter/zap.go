package meter

import (
	"go.uber.org/zap"

	"github.com/ineyio/genrouter"
)

// ZapMeter logs routing events using a zap logger.
type ZapMeter struct {
	Logger *zap.Logger
}

var _ genrouter.Meter = (*ZapMeter)(nil)

// NewZapMeter creates a ZapMeter. If logger is nil, a no-op logger is used.
func NewZapMeter(logger *zap.Logger) *ZapMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapMeter{Logger: logger}
}

func (m *ZapMeter) OnRoute(e genrouter.RouteEvent) {
	m.Logger.Info("route",
		zap.String("strategy", e.Strategy),
		zap.String("provider", e.Provider),
		zap.String("account", e.AccountID),
		zap.String("model", e.Model),
		zap.String("tier", string(e.Tier)),
		zap.Bool("free", e.Free),
		zap.Int("attempt", e.AttemptNum),
		zap.String("failover_from", e.FailoverFrom),
	)
}

func (m *ZapMeter) OnResult(e genrouter.ResultEvent) {
	fields := []zap.Field{
		zap.String("provider", e.Provider),
		zap.String("account", e.AccountID),
		zap.String("model", e.Model),
		zap.Bool("free", e.Free),
		zap.Duration("duration", e.Duration),
	}
	if e.Success {
		m.Logger.Info("result", append(fields,
			zap.Float64("credits", e.Credits),
			zap.Float64("cost_usd", e.Cost),
		)...)
		return
	}
	m.Logger.Warn("result_error", append(fields, zap.Error(e.Error))...)
}

func (m *ZapMeter) OnFailover(e genrouter.FailoverEvent) {
	if e.Active {
		m.Logger.Warn("failover_activated",
			zap.String("primary", e.Primary),
			zap.String("alternate", e.Alternate))
		return
	}
	m.Logger.Info("service_restored",
		zap.String("primary", e.Primary),
		zap.String("alternate", e.Alternate))
}

func (m *ZapMeter) OnSinkError(e genrouter.SinkErrorEvent) {
	m.Logger.Error("usage_sink_error",
		zap.String("record", e.RecordID),
		zap.Error(e.Error))
}
