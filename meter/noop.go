package meter

import "github.com/baum777/reasongate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ reasongate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(reasongate.RouteEvent)   {}
func (m *NoopMeter) OnResult(reasongate.ResultEvent) {}
