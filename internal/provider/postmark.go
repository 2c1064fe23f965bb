package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

const postmarkTrackLinks = "HtmlOnly"

var ErrInvalidConfig = errors.New("invalid email provider config")

// PostmarkConfig holds Postmark credentials and the sender identity.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	SupportEmail string
}

func (c PostmarkConfig) Validate() error {
	if strings.TrimSpace(c.ServerToken) == "" {
		return fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.AccountToken) == "" {
		return fmt.Errorf("%w: postmark account token is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(c.SenderEmail); err != nil {
		return fmt.Errorf("%w: sender email must be a valid email address", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(c.SupportEmail); err != nil {
		return fmt.Errorf("%w: support email must be a valid email address", ErrInvalidConfig)
	}
	return nil
}

// PostmarkProvider sends emails through the Postmark transactional API.
type PostmarkProvider struct {
	client *postmark.Client
	config PostmarkConfig
}

func NewPostmarkProvider(cfg PostmarkConfig) (*PostmarkProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	client.HTTPClient = &http.Client{Timeout: defaultWebhookTimeout}

	return &PostmarkProvider{client: client, config: cfg}, nil
}

func (p *PostmarkProvider) Send(ctx context.Context, email Email) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := email.Validate(); err != nil {
		return nil, newInvalidEmailError("postmark", err)
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.config.SenderEmail,
		ReplyTo:    p.config.SupportEmail,
		To:         email.To,
		Subject:    email.Subject,
		Tag:        email.Tag,
		HTMLBody:   email.HTMLBody,
		TrackOpens: true,
		TrackLinks: postmarkTrackLinks,
	})
	if resp.ErrorCode > 0 {
		return nil, newPostmarkError(resp.ErrorCode, resp.Message)
	}
	if err != nil {
		return nil, newRequestError("postmark", err)
	}

	return &ProviderResponse{
		StatusCode: http.StatusOK,
		MessageID:  resp.MessageID,
	}, nil
}
