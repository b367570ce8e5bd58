package meter

import "github.com/ineyio/genrouter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ genrouter.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(genrouter.RouteEvent)         {}
func (m *NoopMeter) OnResult(genrouter.ResultEvent)       {}
func (m *NoopMeter) OnFailover(genrouter.FailoverEvent)   {}
func (m *NoopMeter) OnSinkError(genrouter.SinkErrorEvent) {}
