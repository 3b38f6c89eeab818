package meter

import (
	"log/slog"

	"github.com/baum777/reasongate"
)

// LogMeter logs routing events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ reasongate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e reasongate.RouteEvent) {
	attrs := []any{
		"request_id", e.RequestID,
		"provider", e.Provider,
		"use_case", e.UseCase,
		"model", e.Model,
		"estimated_tokens", e.EstimatedIn,
	}
	if e.Remaining >= 0 {
		attrs = append(attrs, "remaining", e.Remaining)
	}
	if e.Overage {
		m.Logger.Warn("route_overage", append(attrs, "user_id", e.UserID)...)
		return
	}
	m.Logger.Info("route", attrs...)
}

func (m *LogMeter) OnResult(e reasongate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"use_case", e.UseCase,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"use_case", e.UseCase,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
