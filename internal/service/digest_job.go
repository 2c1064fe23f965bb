package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"go.uber.org/zap"
)

// DigestSource returns the per-user review likes collected on date.
type DigestSource interface {
	Load(ctx context.Context, date string) ([]domain.UserLikes, error)
}

// Initiator starts a notification.
type Initiator interface {
	Initiate(ctx context.Context, correlationID, routingKey string, payload []byte) (*domain.Notification, error)
}

// DigestJob initiates the daily likes digest for the previous UTC day.
type DigestJob struct {
	source    DigestSource
	initiator Initiator
	logger    *zap.Logger
	now       func() time.Time
}

func NewDigestJob(source DigestSource, initiator Initiator, logger *zap.Logger) (*DigestJob, error) {
	if source == nil {
		return nil, fmt.Errorf("digest source is required")
	}
	if initiator == nil {
		return nil, fmt.Errorf("initiator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestJob{source: source, initiator: initiator, logger: logger, now: time.Now}, nil
}

// DigestCorrelationID is the correlation id of the digest sent for date.
func DigestCorrelationID(date string) string {
	return "likes-for-reviews:" + date
}

// Run initiates the digest of yesterday. A digest already initiated for that
// date is logged and skipped.
func (j *DigestJob) Run(ctx context.Context) error {
	date := j.now().UTC().AddDate(0, 0, -1).Format(domain.DigestDateLayout)
	logger := j.logger.With(zap.String("date", date))

	users, err := j.source.Load(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to load likes digest for %s: %w", date, err)
	}

	digest := domain.LikesDigest{Date: date, Users: make([]domain.UserLikes, 0, len(users))}
	for _, u := range users {
		if err := u.Validate(); err != nil {
			logger.Warn("skipping invalid digest entry", zap.String("userId", u.UserID), zap.Error(err))
			continue
		}
		digest.Users = append(digest.Users, u)
	}
	if len(digest.Users) == 0 {
		logger.Info("likes digest is empty, nothing to send")
		return nil
	}
	if err := digest.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("failed to marshal likes digest: %w", err)
	}

	n, err := j.initiator.Initiate(ctx, DigestCorrelationID(date), domain.RoutingKeyLikesForReviews, payload)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("likes digest already initiated")
			return nil
		}
		return fmt.Errorf("failed to initiate likes digest: %w", err)
	}

	logger.Info("likes digest initiated",
		zap.Int("users", len(digest.Users)),
		zap.String("status", n.Status.String()),
	)
	return nil
}
