package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Routing keys select the notification template and double as broker binding keys.
const (
	RoutingKeyRegistered      = "user-reporting.v1.registered"
	RoutingKeyLikesForReviews = "user-reporting.v1.likes-for-reviews"
)

// DigestDateLayout is the date format used by likes digests.
const DigestDateLayout = "2006-01-02"

const (
	minNameLength = 3
	maxNameLength = 50
)

var knownRoutingKeys = []string{
	RoutingKeyRegistered,
	RoutingKeyLikesForReviews,
}

func IsKnownRoutingKey(routingKey string) bool {
	for _, key := range knownRoutingKeys {
		if key == routingKey {
			return true
		}
	}
	return false
}

// RoutingKeys returns every routing key the pipeline delivers.
func RoutingKeys() []string {
	keys := make([]string, len(knownRoutingKeys))
	copy(keys, knownRoutingKeys)
	return keys
}

// UserRegistered is the v1 payload of RoutingKeyRegistered.
type UserRegistered struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p *UserRegistered) Normalize() {
	p.UserID = strings.TrimSpace(p.UserID)
	p.UserEmail = strings.TrimSpace(p.UserEmail)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
}

func (p UserRegistered) Validate() error {
	if _, err := uuid.Parse(p.UserID); err != nil {
		return fmt.Errorf("%w: user_id must be a uuid", ErrValidation)
	}
	if err := validateEmail("user_email", p.UserEmail); err != nil {
		return err
	}
	if err := validateName("first_name", p.FirstName); err != nil {
		return err
	}
	return validateName("last_name", p.LastName)
}

// ReviewLikes is a single review with the number of likes it collected.
type ReviewLikes struct {
	ReviewID string `json:"review_id"`
	Title    string `json:"title"`
	Likes    int    `json:"likes"`
}

// UserLikes groups the liked reviews of one digest recipient.
type UserLikes struct {
	UserID    string        `json:"user_id"`
	UserEmail string        `json:"user_email"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Reviews   []ReviewLikes `json:"reviews"`
}

func (u UserLikes) Validate() error {
	if strings.TrimSpace(u.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if err := validateEmail("user_email", u.UserEmail); err != nil {
		return err
	}
	if len(u.Reviews) == 0 {
		return fmt.Errorf("%w: user %s has no reviews", ErrValidation, u.UserID)
	}
	for _, r := range u.Reviews {
		if strings.TrimSpace(r.ReviewID) == "" {
			return fmt.Errorf("%w: review_id is required", ErrValidation)
		}
		if r.Likes < 0 {
			return fmt.Errorf("%w: likes must be non-negative", ErrValidation)
		}
	}
	return nil
}

// LikesDigest is the v1 payload of RoutingKeyLikesForReviews.
type LikesDigest struct {
	Date  string      `json:"date"`
	Users []UserLikes `json:"users"`
}

func (d LikesDigest) Validate() error {
	if _, err := time.Parse(DigestDateLayout, d.Date); err != nil {
		return fmt.Errorf("%w: date must be %s", ErrValidation, DigestDateLayout)
	}
	if len(d.Users) == 0 {
		return fmt.Errorf("%w: digest has no users", ErrValidation)
	}
	for _, u := range d.Users {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecodePayload unmarshals and validates a payload against the schema of routingKey.
func DecodePayload(routingKey string, payload []byte) (any, error) {
	switch routingKey {
	case RoutingKeyRegistered:
		var p UserRegistered
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrValidation, routingKey, err)
		}
		p.Normalize()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil
	case RoutingKeyLikesForReviews:
		var d LikesDigest
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrValidation, routingKey, err)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown routing key %q", ErrValidation, routingKey)
	}
}

func validateEmail(field, value string) error {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return fmt.Errorf("%w: %s must be a valid email address", ErrValidation, field)
	}
	return nil
}

func validateName(field, value string) error {
	n := len([]rune(value))
	if n < minNameLength || n > maxNameLength {
		return fmt.Errorf("%w: %s must be between %d and %d characters", ErrValidation, field, minNameLength, maxNameLength)
	}
	return nil
}
