package meter

import "github.com/baum777/reasongate"

// Multi fans every event out to each meter in order.
type Multi []reasongate.Meter

var _ reasongate.Meter = Multi(nil)

// NewMulti returns a Multi over the non-nil meters.
func NewMulti(meters ...reasongate.Meter) Multi {
	out := make(Multi, 0, len(meters))
	for _, m := range meters {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (m Multi) OnRoute(e reasongate.RouteEvent) {
	for _, mm := range m {
		mm.OnRoute(e)
	}
}

func (m Multi) OnResult(e reasongate.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}
