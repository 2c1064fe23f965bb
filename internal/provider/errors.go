package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Reason is the failure class reported in send failure metrics.
type Reason string

const (
	ReasonInvalidEmail  Reason = "invalid_email"
	ReasonRejected      Reason = "rejected"
	ReasonThrottled     Reason = "throttled"
	ReasonUnavailable   Reason = "unavailable"
	ReasonTimeout       Reason = "timeout"
	ReasonCanceled      Reason = "canceled"
	ReasonRequestFailed Reason = "request_failed"
	ReasonUnknown       Reason = "unknown"
)

// Postmark API error codes, see https://postmarkapp.com/developer/api/overview#error-codes.
const (
	postmarkCodeMaintenance       = 100
	postmarkCodeInvalidEmail      = 300
	postmarkCodeInactiveRecipient = 406
)

// ProviderError is a failed send. Transient failures may succeed when the
// same email is sent again later.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       int
	Reason     Reason
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	name := e.Provider
	if name == "" {
		name = "provider"
	}
	parts := []string{name + " send failed"}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newInvalidEmailError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Reason:   ReasonInvalidEmail,
		Message:  "invalid email",
		Cause:    err,
	}
}

// newStatusError classifies a non-2xx HTTP reply. 429 and 5xx are retryable.
func newStatusError(provider string, statusCode int, body string) *ProviderError {
	e := &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Reason:     ReasonRejected,
		Message:    strings.TrimSpace(body),
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Reason = ReasonThrottled
		e.Transient = true
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		e.Reason = ReasonUnavailable
		e.Transient = true
	}
	return e
}

// newPostmarkError classifies a Postmark API error code. Only maintenance
// windows are retried.
func newPostmarkError(code int64, message string) *ProviderError {
	e := &ProviderError{
		Provider: "postmark",
		Code:     int(code),
		Reason:   ReasonRejected,
		Message:  strings.TrimSpace(message),
	}

	switch code {
	case postmarkCodeMaintenance:
		e.Reason = ReasonUnavailable
		e.Transient = true
	case postmarkCodeInvalidEmail, postmarkCodeInactiveRecipient:
		e.Reason = ReasonInvalidEmail
	}
	return e
}

// newRequestError wraps a failure to reach the provider at all.
func newRequestError(provider string, err error) *ProviderError {
	e := &ProviderError{
		Provider:  provider,
		Reason:    ReasonRequestFailed,
		Message:   "request failed",
		Transient: true,
		Cause:     err,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		e.Reason = ReasonCanceled
		e.Transient = false
	case errors.Is(err, context.DeadlineExceeded):
		e.Reason = ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Reason = ReasonTimeout
	}
	return e
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// ReasonOf returns the failure class of err for metric labels.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Reason != "" {
		return providerErr.Reason
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}
	return ReasonUnknown
}
