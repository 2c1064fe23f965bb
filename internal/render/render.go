// Package render turns notification payloads into HTML emails.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
)

const (
	SubjectRegistered      = "User registration confirmation"
	SubjectLikesForReviews = "Your best comments today!"
)

// Message is one rendered email of a notification.
type Message struct {
	UserID  string
	To      string
	Subject string
	HTML    string
}

// Render renders a templ component to a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Messages decodes content against the schema of routingKey and renders one
// message per recipient. Payload errors wrap domain.ErrValidation.
func Messages(ctx context.Context, routingKey string, content []byte) ([]Message, error) {
	payload, err := domain.DecodePayload(routingKey, content)
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case domain.UserRegistered:
		html, err := Render(ctx, WelcomeEmail(p))
		if err != nil {
			return nil, fmt.Errorf("failed to render welcome email: %w", err)
		}
		return []Message{{
			UserID:  p.UserID,
			To:      p.UserEmail,
			Subject: SubjectRegistered,
			HTML:    html,
		}}, nil
	case domain.LikesDigest:
		messages := make([]Message, 0, len(p.Users))
		for _, user := range p.Users {
			html, err := Render(ctx, LikesDigestEmail(p.Date, user))
			if err != nil {
				return nil, fmt.Errorf("failed to render likes digest for %s: %w", user.UserID, err)
			}
			messages = append(messages, Message{
				UserID:  user.UserID,
				To:      user.UserEmail,
				Subject: SubjectLikesForReviews,
				HTML:    html,
			})
		}
		return messages, nil
	default:
		return nil, fmt.Errorf("%w: no template for routing key %q", domain.ErrValidation, routingKey)
	}
}
