package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// FailureReason categorizes why a provider request failed.
type FailureReason string

const (
	FailureRateLimit      FailureReason = "rate_limit"
	FailureAuth           FailureReason = "auth"
	FailureTimeout        FailureReason = "timeout"
	FailureServerError    FailureReason = "server_error"
	FailureInvalidRequest FailureReason = "invalid_request"
	FailureNotFound       FailureReason = "not_found"
	FailureUnknown        FailureReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified API failure.
type ProviderError struct {
	Op      string
	Reason  FailureReason
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Reason, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Reason, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	out := &ProviderError{Op: op, Reason: FailureUnknown, Message: err.Error(), Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			out.Code = code
		}
		out.Reason = reasonForStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		out.Status = reqErr.HTTPStatusCode
		out.Reason = reasonForStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		out.Reason = FailureTimeout
	}
	return out
}

func reasonForStatus(status int) FailureReason {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusNotFound:
		return FailureNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status >= 500:
		return FailureServerError
	case status >= 400:
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}
