package reasongate

import (
	"encoding/json"
	"time"
)

// UseCase names a category of generation request. It selects the provider,
// the default model, and the budget bucket.
type UseCase string

// Built-in use cases.
const (
	UseCaseJournalInsight UseCase = "journal_insight"
	UseCaseTradeReview    UseCase = "trade_review"
	UseCaseSentimentPulse UseCase = "sentiment_pulse"
	UseCaseInsightCritic  UseCase = "insight_critic"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Caller identifies who is asking for a generation.
type Caller struct {
	UserID string
	IP     string
}

// Key returns the identity used by the rate limiter.
func (c Caller) Key() string {
	switch {
	case c.UserID != "":
		return "user:" + c.UserID
	case c.IP != "":
		return "ip:" + c.IP
	default:
		return "anonymous"
	}
}

// CompletionRequest is a single generation request as seen by the Router
// and the Adapter.
type CompletionRequest struct {
	RequestID   string
	UseCase     UseCase
	Model       string // overrides the use case default when set
	System      string
	Prompt      string
	JSONOnly    bool
	Temperature *float64
	MaxTokens   *int
	Timeout     time.Duration // per provider call; zero uses the use case default
}

// CompletionResult is the outcome of a successful completion.
type CompletionResult struct {
	Provider string
	Model    string
	RawText  string
	Parsed   json.RawMessage // set when JSONOnly was requested
	Usage    Usage
	Routing  RoutingInfo
}

// RoutingInfo describes how a request was admitted and which provider served it.
type RoutingInfo struct {
	RequestID string
	Provider  string
	UseCase   UseCase
	Model     string
	Remaining int64
	Overage   bool
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
