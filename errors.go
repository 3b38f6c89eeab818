package reasongate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Sentinel errors.
var (
	ErrRateLimited           = errors.New("reasongate: rate limited")
	ErrTimeout               = errors.New("reasongate: provider call timed out")
	ErrProviderUnavailable   = errors.New("reasongate: provider unavailable")
	ErrAuthFailed            = errors.New("reasongate: authentication failed")
	ErrInvalidRequest        = errors.New("reasongate: invalid request")
	ErrUnknownUseCase        = errors.New("reasongate: unknown use case")
	ErrMissingCredential     = errors.New("reasongate: provider credential not configured")
	ErrParsingFailed         = errors.New("reasongate: response parsing failed")
	ErrBudgetExceeded        = errors.New("reasongate: daily limit exceeded")
	ErrCapabilityUnavailable = errors.New("reasongate: capability not available on tier")
	ErrConcurrencyLimited    = errors.New("reasongate: too many concurrent calls")
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4096

// ProviderError carries the upstream status, body, and Retry-After hint of a
// failed provider call. Err classifies it against the sentinels above.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 for transport failures
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("reasongate: provider=%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("reasongate: provider=%s status=%d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewStatusError classifies a non-2xx provider response.
func NewStatusError(provider string, status int, body string, header http.Header, now time.Time) *ProviderError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	pe := &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Body:       body,
	}
	if header != nil {
		if d, ok := ParseRetryAfter(header.Get("Retry-After"), now); ok {
			pe.RetryAfter = d
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		pe.Err = ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Err = ErrAuthFailed
	case status >= 500:
		pe.Err = ErrProviderUnavailable
	default:
		pe.Err = ErrInvalidRequest
	}
	return pe
}

// ReadStatusError drains a failed HTTP response into a ProviderError.
func ReadStatusError(provider string, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return NewStatusError(provider, resp.StatusCode, string(body), resp.Header, time.Now())
}

// ParseRetryAfter interprets a Retry-After header value given either as
// delta seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RetryAfterOf returns the provider supplied Retry-After delay carried by err.
func RetryAfterOf(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}

// RateLimitError is returned when the local per-caller limiter rejects a request.
type RateLimitError struct {
	Key        string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("reasongate: rate limited (%s): %s, retry after %s", e.Key, e.Reason, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// BudgetError is returned when the budget gate rejects a request.
type BudgetError struct {
	Provider string
	UseCase  UseCase
	Reason   string
	Err      error
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("reasongate: budget provider=%s use_case=%s: %s", e.Provider, e.UseCase, e.Reason)
}

func (e *BudgetError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether waiting (for a slot or the daily reset) can help.
func (e *BudgetError) Recoverable() bool {
	return !errors.Is(e.Err, ErrCapabilityUnavailable)
}

// RouterError wraps an error with routing context.
type RouterError struct {
	Err       error
	RequestID string
	Provider  string
	UseCase   UseCase
	Model     string
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("reasongate: request=%s use_case=%s provider=%s model=%s: %v",
		e.RequestID, e.UseCase, e.Provider, e.Model, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// IsFatal returns true for configuration and caller errors that no retry can fix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownUseCase) ||
		errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrCapabilityUnavailable)
}

// IsRetryable is the default retry predicate: HTTP 429, any 5xx, transient
// network failures, and client side timeouts or cancellations. Other 4xx
// responses are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
	}

	if errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
