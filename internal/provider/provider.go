package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Email is a rendered message addressed to a single recipient.
type Email struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string
}

func (e Email) Validate() error {
	addr, err := mail.ParseAddress(strings.TrimSpace(e.To))
	if err != nil || addr.Address != strings.TrimSpace(e.To) {
		return fmt.Errorf("invalid recipient %q", e.To)
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(e.HTMLBody) == "" {
		return fmt.Errorf("html body is required")
	}
	return nil
}

// Provider is the outbound email delivery port.
type Provider interface {
	Send(ctx context.Context, email Email) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for logging.
type ProviderResponse struct {
	StatusCode int
	MessageID  string
}
