// Package reasoning runs the generate, validate, critique and cache pipeline
// for AI-authored insights on top of the reasongate router.
package reasoning

import (
	"encoding/json"

	"github.com/baum777/reasongate"
)

// DefaultVersion is used when a request carries no version.
const DefaultVersion = "v1"

// Request asks for one insight about a reference entity.
type Request struct {
	UseCase     reasongate.UseCase `json:"type"`
	ReferenceID string             `json:"referenceId"`
	Context     map[string]any     `json:"context,omitempty"`
	Version     string             `json:"version,omitempty"`
	Caller      reasongate.Caller  `json:"-"`
}

// Status is the outcome of a run.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Envelope is the response returned for every run. An error envelope
// carries null data.
type Envelope struct {
	Status     Status          `json:"status"`
	Data       json.RawMessage `json:"data"`
	Confidence float64         `json:"confidence"`
	Warnings   []string        `json:"warnings"`
	Critic     *CriticReport   `json:"critic,omitempty"`
	Meta       Meta            `json:"meta"`
	Error      *ErrorInfo      `json:"error,omitempty"`
}

// Meta describes how an envelope was produced.
type Meta struct {
	LatencyMs int64     `json:"latencyMs"`
	Model     string    `json:"model"`
	Version   string    `json:"version"`
	Cache     CacheInfo `json:"cache"`
}

// CacheInfo reports whether the envelope came from the cache. Cached
// envelopes are always stale.
type CacheInfo struct {
	Hit     bool   `json:"hit"`
	IsStale bool   `json:"isStale"`
	Key     string `json:"key,omitempty"`
}

// ErrorInfo is the failure part of an error envelope.
type ErrorInfo struct {
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// CriticReport is the outcome of the critic pass.
type CriticReport struct {
	Issues             []string `json:"issues"`
	AdjustedConfidence float64  `json:"adjustedConfidence"`
	Notes              []string `json:"notes"`
}

// State is a step of the pipeline.
type State string

const (
	StateNew        State = "NEW"
	StateCacheCheck State = "CACHE_CHECK"
	StateCacheHit   State = "CACHE_HIT"
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateCritiquing State = "CRITIQUING"
	StateCaching    State = "CACHING"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)
