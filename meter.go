package reasongate

import "time"

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called once a request has been admitted and a provider chosen.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider call finishes, successfully or not.
	OnResult(event ResultEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	RequestID   string
	Provider    string
	UseCase     UseCase
	Model       string
	UserID      string
	EstimatedIn int64
	Remaining   int64
	Overage     bool
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	RequestID string
	Provider  string
	UseCase   UseCase
	Model     string
	Success   bool
	Duration  time.Duration
	Usage     Usage
	Error     error
	At        time.Time
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
