package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"github.com/kursadbilgin/notify-pipeline/internal/observability"
	"github.com/kursadbilgin/notify-pipeline/internal/queue"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"go.uber.org/zap"
)

// NotificationService is the producer side of the delivery pipeline.
type NotificationService struct {
	ledger   repository.Ledger
	producer queue.Producer
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewNotificationService(
	ledger repository.Ledger,
	producer queue.Producer,
	logger *zap.Logger,
) (*NotificationService, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		ledger:   ledger,
		producer: producer,
		logger:   logger,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Initiate persists the content and status rows of a new notification and
// publishes it.
//
// A duplicate correlation id fails with domain.ErrConflict, except when an
// earlier call stored the same payload and failed before its status row.
// A failed publish
// is not an error: the notification is returned in StatusInitiated and the
// initiated sweep re-drives it.
func (s *NotificationService) Initiate(
	ctx context.Context,
	correlationID string,
	routingKey string,
	payload []byte,
) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}
	if !domain.IsKnownRoutingKey(routingKey) {
		return nil, fmt.Errorf("%w: unknown routing key %q", domain.ErrValidation, routingKey)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload must be valid json", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(s.logger, ctx).
		With(observability.NotificationFields(correlationID, routingKey)...)

	content := &domain.NotificationContent{ID: correlationID, Content: payload}
	if err := s.ledger.InsertContent(ctx, content); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		if err := s.adoptOrphanedContent(ctx, correlationID, payload, err); err != nil {
			return nil, err
		}
		logger.Warn("content stored without a notification, finishing insert")
	}

	notification := &domain.Notification{
		ContentID:  correlationID,
		RoutingKey: routingKey,
		Status:     domain.StatusInitiated,
	}
	if err := s.ledger.InsertNotification(ctx, notification); err != nil {
		return nil, err
	}
	s.metrics.IncNotificationInitiated(routingKey)

	if err := s.producer.Produce(ctx, routingKey, payload, correlationID); err != nil {
		logger.Warn("failed to produce notification, left for initiated sweep", zap.Error(err))
		s.metrics.IncNotificationFailed(routingKey, "publish")
		return notification, nil
	}

	err := s.ledger.UpdateNotification(ctx, repository.ColumnContentID, correlationID, advance(domain.StatusProduced))
	switch {
	case err == nil:
		notification.Status = domain.StatusProduced
		notification.Failures = 0
	case errors.Is(err, domain.ErrInvalidTransition):
		// The consumer already moved the row past Initiated.
		current, lookupErr := s.lookup(ctx, correlationID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		notification = current
	default:
		return nil, fmt.Errorf("failed to mark notification produced: %w", err)
	}

	s.metrics.IncNotificationProduced(routingKey)
	logger.Info("notification produced", zap.String("status", notification.Status.String()))
	return notification, nil
}

// Reproduce republishes the stored content of n and moves it back to
// StatusProduced with failures reset.
func (s *NotificationService) Reproduce(ctx context.Context, n domain.Notification) error {
	content, err := s.ledger.GetContent(ctx, n.ContentID)
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}

	if err := s.producer.Produce(ctx, n.RoutingKey, content.Content, n.ContentID); err != nil {
		s.metrics.IncNotificationFailed(n.RoutingKey, "publish")
		return fmt.Errorf("failed to reproduce notification: %w", err)
	}

	if err := s.ledger.UpdateNotification(ctx, repository.ColumnID, n.ID, advance(domain.StatusProduced)); err != nil {
		return fmt.Errorf("failed to mark notification produced: %w", err)
	}
	s.metrics.IncNotificationProduced(n.RoutingKey)

	observability.WithContextLogger(s.logger, ctx).Info("notification reproduced",
		append(observability.NotificationFields(n.ContentID, n.RoutingKey), zap.Int("failures", n.Failures))...,
	)
	return nil
}

// adoptOrphanedContent lets a retry finish an Initiate whose content row was
// stored but whose notification insert failed. The stored payload must match.
// Any other existing content keeps the original conflict.
func (s *NotificationService) adoptOrphanedContent(ctx context.Context, correlationID string, payload []byte, conflict error) error {
	_, err := s.lookup(ctx, correlationID)
	if err == nil {
		return conflict
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to look up notification: %w", err)
	}

	stored, err := s.ledger.GetContent(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}
	same, err := sameJSON(stored.Content, payload)
	if err != nil {
		return fmt.Errorf("failed to compare content: %w", err)
	}
	if !same {
		return fmt.Errorf("%w: correlation id %s already holds different content", domain.ErrConflict, correlationID)
	}
	return nil
}

// sameJSON compares two documents by value; jsonb storage does not keep the
// original formatting.
func sameJSON(a, b []byte) (bool, error) {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false, err
	}
	return reflect.DeepEqual(av, bv), nil
}

// GetByCorrelationID returns the status row of a notification.
func (s *NotificationService) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Notification, error) {
	return s.lookup(ctx, correlationID)
}

func (s *NotificationService) lookup(ctx context.Context, correlationID string) (*domain.Notification, error) {
	return findByContentID(ctx, s.ledger, correlationID)
}

// advance builds the update that moves a row into to. Failures reset on every
// status change and the row must be in one of the allowed predecessor states.
func advance(to domain.Status) repository.Fields {
	failures := 0
	return repository.Fields{
		Status:   &to,
		Failures: &failures,
		From:     domain.Predecessors(to),
	}
}

func findByContentID(ctx context.Context, ledger repository.Ledger, contentID string) (*domain.Notification, error) {
	rows, err := ledger.SelectNotifications(ctx, repository.Filter{ContentID: &contentID}, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: notification for content %s", domain.ErrNotFound, contentID)
	}
	n := rows[0]
	return &n, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
