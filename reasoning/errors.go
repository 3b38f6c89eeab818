package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/baum777/reasongate"
)

// Code is the error taxonomy exposed in envelopes.
type Code string

const (
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeTimeout          Code = "TIMEOUT"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"
	CodeParsingFailed    Code = "PARSING_FAILED"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeBudgetExceeded   Code = "BUDGET_EXCEEDED"
)

var (
	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("reasoning: invalid request")

	// ErrSchemaMismatch is returned when generated JSON does not match the
	// use case's output shape.
	ErrSchemaMismatch = fmt.Errorf("reasoning: output does not match schema: %w", reasongate.ErrParsingFailed)
)

// Classify maps a pipeline error onto the envelope taxonomy.
func Classify(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Message: err.Error()}

	var rle *reasongate.RateLimitError
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, reasongate.ErrUnknownUseCase):
		info.Code = CodeValidationFailed

	case errors.As(err, &rle):
		info.Code = CodeRateLimited
		info.Retryable = true
		info.RetryAfterMs = rle.RetryAfter.Milliseconds()

	case errors.Is(err, reasongate.ErrRateLimited), errors.Is(err, reasongate.ErrConcurrencyLimited):
		info.Code = CodeRateLimited
		info.Retryable = true
		if d, ok := reasongate.RetryAfterOf(err); ok {
			info.RetryAfterMs = d.Milliseconds()
		}

	case errors.Is(err, reasongate.ErrCapabilityUnavailable):
		info.Code = CodeBudgetExceeded

	case errors.Is(err, reasongate.ErrBudgetExceeded):
		info.Code = CodeBudgetExceeded
		info.Retryable = true

	case errors.Is(err, reasongate.ErrParsingFailed):
		info.Code = CodeParsingFailed

	case errors.Is(err, reasongate.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		info.Code = CodeTimeout
		info.Retryable = true

	case errors.Is(err, reasongate.ErrAuthFailed), errors.Is(err, reasongate.ErrInvalidRequest):
		info.Code = CodeUpstreamError

	case errors.Is(err, reasongate.ErrMissingCredential):
		info.Code = CodeInternalError

	case reasongate.IsRetryable(err):
		info.Code = CodeUpstreamError
		info.Retryable = true

	default:
		info.Code = CodeInternalError
	}
	return info
}
