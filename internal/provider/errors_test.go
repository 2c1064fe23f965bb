package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNewStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status        int
		wantReason    Reason
		wantTransient bool
	}{
		{status: http.StatusTooManyRequests, wantReason: ReasonThrottled, wantTransient: true},
		{status: http.StatusInternalServerError, wantReason: ReasonUnavailable, wantTransient: true},
		{status: http.StatusServiceUnavailable, wantReason: ReasonUnavailable, wantTransient: true},
		{status: http.StatusBadRequest, wantReason: ReasonRejected},
		{status: http.StatusUnprocessableEntity, wantReason: ReasonRejected},
		{status: http.StatusMultipleChoices, wantReason: ReasonRejected},
	}

	for _, tt := range tests {
		err := newStatusError("webhook", tt.status, " upstream said no \n")
		if err.Reason != tt.wantReason {
			t.Errorf("status %d: Reason = %q, want %q", tt.status, err.Reason, tt.wantReason)
		}
		if IsTransient(err) != tt.wantTransient {
			t.Errorf("status %d: IsTransient() = %v, want %v", tt.status, IsTransient(err), tt.wantTransient)
		}
		want := fmt.Sprintf("webhook send failed: status=%d: upstream said no", tt.status)
		if err.Error() != want {
			t.Errorf("status %d: Error() = %q, want %q", tt.status, err.Error(), want)
		}
	}
}

func TestNewPostmarkError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		code          int64
		wantReason    Reason
		wantTransient bool
	}{
		{name: "maintenance", code: 100, wantReason: ReasonUnavailable, wantTransient: true},
		{name: "invalid email request", code: 300, wantReason: ReasonInvalidEmail},
		{name: "inactive recipient", code: 406, wantReason: ReasonInvalidEmail},
		{name: "bad server token", code: 10, wantReason: ReasonRejected},
		{name: "sending not allowed", code: 405, wantReason: ReasonRejected},
	}

	for _, tt := range tests {
		err := newPostmarkError(tt.code, "Postmark says hi")
		if err.Reason != tt.wantReason {
			t.Errorf("%s: Reason = %q, want %q", tt.name, err.Reason, tt.wantReason)
		}
		if err.Transient != tt.wantTransient {
			t.Errorf("%s: Transient = %v, want %v", tt.name, err.Transient, tt.wantTransient)
		}
		if err.Code != int(tt.code) {
			t.Errorf("%s: Code = %d, want %d", tt.name, err.Code, tt.code)
		}
		if !strings.Contains(err.Error(), fmt.Sprintf("code=%d", tt.code)) {
			t.Errorf("%s: Error() = %q, want code in message", tt.name, err.Error())
		}
	}
}

func TestNewRequestError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cause         error
		wantReason    Reason
		wantTransient bool
	}{
		{name: "deadline", cause: fmt.Errorf("post: %w", context.DeadlineExceeded), wantReason: ReasonTimeout, wantTransient: true},
		{name: "canceled", cause: fmt.Errorf("post: %w", context.Canceled), wantReason: ReasonCanceled},
		{name: "connection refused", cause: errors.New("dial tcp: connection refused"), wantReason: ReasonRequestFailed, wantTransient: true},
	}

	for _, tt := range tests {
		err := newRequestError("postmark", tt.cause)
		if err.Reason != tt.wantReason {
			t.Errorf("%s: Reason = %q, want %q", tt.name, err.Reason, tt.wantReason)
		}
		if IsTransient(err) != tt.wantTransient {
			t.Errorf("%s: IsTransient() = %v, want %v", tt.name, IsTransient(err), tt.wantTransient)
		}
		if !errors.Is(err, tt.cause) {
			t.Errorf("%s: error does not wrap its cause", tt.name)
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "transient provider error", err: &ProviderError{Transient: true}, want: true},
		{name: "permanent provider error", err: &ProviderError{StatusCode: 400}, want: false},
		{name: "wrapped provider error", err: fmt.Errorf("send: %w", newStatusError("webhook", 503, "")), want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{name: "nil", err: nil, want: ""},
		{name: "wrapped status error", err: fmt.Errorf("send: %w", newStatusError("webhook", 429, "")), want: ReasonThrottled},
		{name: "postmark code", err: newPostmarkError(406, "inactive"), want: ReasonInvalidEmail},
		{name: "provider error without reason", err: &ProviderError{StatusCode: 400}, want: ReasonUnknown},
		{name: "deadline", err: context.DeadlineExceeded, want: ReasonTimeout},
		{name: "canceled", err: context.Canceled, want: ReasonCanceled},
		{name: "plain error", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tt := range tests {
		if got := ReasonOf(tt.err); got != tt.want {
			t.Errorf("%s: ReasonOf() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
