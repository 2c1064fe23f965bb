package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusInitiated Status = "Initiated"
	StatusProduced  Status = "Produced"
	StatusConsumed  Status = "Consumed"
	StatusSent      Status = "Sent"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusInitiated, StatusProduced, StatusConsumed, StatusSent:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return s == StatusSent }

func ParseStatusFromString(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range []Status{StatusInitiated, StatusProduced, StatusConsumed, StatusSent} {
		if strings.EqualFold(trimmed, st.String()) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}

// transitions lists, for every target state, the states it may be entered from.
//
// Initiated -> Initiated is the in-place retry of the initiated sweep.
// Initiated -> Consumed covers a consumer that wins the race against the
// producer's Produced update. Consumed -> Consumed covers broker redelivery.
var transitions = map[Status][]Status{
	StatusInitiated: {StatusInitiated},
	StatusProduced:  {StatusInitiated},
	StatusConsumed:  {StatusInitiated, StatusProduced, StatusConsumed},
	StatusSent:      {StatusConsumed},
}

// CanTransition reports whether a notification in state from may move to state to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// Predecessors returns the states a notification may be in when entering to.
func Predecessors(to Status) []Status {
	allowed := transitions[to]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// NotificationContent is the immutable payload of a notification, keyed by
// the caller supplied correlation id.
type NotificationContent struct {
	ID      string
	Content []byte
}

// Notification is the status record tracking delivery progress.
type Notification struct {
	ID                   string
	ContentID            string
	RoutingKey           string
	Status               Status
	Failures             int
	CreatedAt            time.Time
	Modified             time.Time
	LastNotificationSend *time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.ContentID) == "" {
		return fmt.Errorf("%w: content id is required", ErrValidation)
	}
	if !IsKnownRoutingKey(n.RoutingKey) {
		return fmt.Errorf("%w: unknown routing key %q", ErrValidation, n.RoutingKey)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	if n.Failures < 0 {
		return fmt.Errorf("%w: failures must be non-negative", ErrValidation)
	}
	return nil
}

// HistoryEntry records one delivered email for the recipient's history view.
type HistoryEntry struct {
	ID          string
	UserID      string
	UserEmail   string
	ContentID   string
	RoutingKey  string
	Subject     string
	HTMLContent string
	SentAt      time.Time
}
