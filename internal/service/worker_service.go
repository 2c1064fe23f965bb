package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	"github.com/kursadbilgin/notify-pipeline/internal/observability"
	"github.com/kursadbilgin/notify-pipeline/internal/provider"
	"github.com/kursadbilgin/notify-pipeline/internal/queue"
	"github.com/kursadbilgin/notify-pipeline/internal/ratelimit"
	"github.com/kursadbilgin/notify-pipeline/internal/render"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"go.uber.org/zap"
)

// WorkerService is the consumer side of the delivery pipeline.
type WorkerService struct {
	ledger      repository.Ledger
	history     repository.HistoryRepository
	consumer    queue.Consumer
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewWorkerService(
	ledger repository.Ledger,
	history repository.HistoryRepository,
	consumer queue.Consumer,
	provider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*WorkerService, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		ledger:      ledger,
		history:     history,
		consumer:    consumer,
		provider:    provider,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start binds every known routing key and processes messages until ctx is
// canceled or the consumer fails.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	for _, routingKey := range domain.RoutingKeys() {
		if err := s.consumer.Consume(ctx, routingKey); err != nil {
			return fmt.Errorf("failed to bind %s: %w", routingKey, err)
		}
	}

	s.logger.Info("worker started", zap.Strings("routingKeys", domain.RoutingKeys()))
	if err := s.consumer.Run(ctx, s.Consume); err != nil {
		s.logger.Error("worker stopped with error", zap.Error(err))
		return err
	}
	s.logger.Info("worker stopped")
	return nil
}

// Consume handles one broker message. A nil return acknowledges the message;
// an error leaves it for redelivery. Redelivered copies of a sent
// notification are acknowledged without sending.
//
// The email is rendered from the stored content, not from the message body.
// Transport failures are logged and acknowledged: the row stays Consumed with
// its modified time untouched, so the consumed sweep reports it.
func (s *WorkerService) Consume(ctx context.Context, msg queue.Message) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("routingKey", msg.RoutingKey))

	s.metrics.IncConsumerInFlight(msg.RoutingKey)
	defer s.metrics.DecConsumerInFlight(msg.RoutingKey)

	notification, err := findByContentID(ctx, s.ledger, msg.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Error("message for unknown correlation id, dropping")
			s.metrics.IncNotificationFailed(msg.RoutingKey, "unknown_correlation_id")
			return nil
		}
		return fmt.Errorf("failed to look up notification: %w", err)
	}
	if notification.Status == domain.StatusSent {
		logger.Info("notification already sent, skipping")
		return nil
	}
	routingKey := notification.RoutingKey
	if routingKey != msg.RoutingKey {
		logger.Warn("message routing key differs from ledger", zap.String("ledgerRoutingKey", routingKey))
	}

	// A redelivered Consumed row keeps its modified time.
	if notification.Status != domain.StatusConsumed {
		err = s.ledger.UpdateNotification(ctx, repository.ColumnID, notification.ID, advance(domain.StatusConsumed))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				logger.Info("notification already sent, skipping")
				return nil
			}
			return fmt.Errorf("failed to mark notification consumed: %w", err)
		}
	}

	content, err := s.ledger.GetContent(ctx, notification.ContentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Error("notification content missing, dropping")
			s.metrics.IncNotificationFailed(routingKey, "missing_content")
			return nil
		}
		return fmt.Errorf("failed to load notification content: %w", err)
	}

	messages, err := render.Messages(ctx, routingKey, content.Content)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.Error("undeliverable payload, dropping", zap.Error(err))
			s.metrics.IncNotificationFailed(routingKey, "invalid_payload")
			return nil
		}
		return err
	}

	sent, err := s.messageAlreadySent(ctx, msg.CorrelationID)
	if err != nil {
		return err
	}
	if sent {
		logger.Info("notification already sent, skipping")
		return nil
	}

	delivered, err := s.send(ctx, logger, routingKey, messages)
	if len(delivered) == 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to send notification: %w", ctx.Err())
		}
		logger.Error("notification could not be sent, left for consumed sweep",
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
		return nil
	}

	sentAt := s.now().UTC()
	fields := advance(domain.StatusSent)
	fields.LastNotificationSend = timePtr(sentAt)
	if err := s.ledger.UpdateNotification(ctx, repository.ColumnID, notification.ID, fields); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("notification was sent concurrently")
			return nil
		}
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	s.recordHistory(ctx, logger, notification, delivered, sentAt)
	logger.Info("notification sent", zap.Int("emails", len(delivered)))
	return nil
}

// messageAlreadySent re-reads the row right before the external send.
func (s *WorkerService) messageAlreadySent(ctx context.Context, correlationID string) (bool, error) {
	n, err := findByContentID(ctx, s.ledger, correlationID)
	if err != nil {
		return false, fmt.Errorf("failed to re-read notification: %w", err)
	}
	return n.Status == domain.StatusSent, nil
}

// send delivers every rendered message. It returns the delivered messages and
// the last error; a partial digest counts as delivered.
func (s *WorkerService) send(
	ctx context.Context,
	logger *zap.Logger,
	routingKey string,
	messages []render.Message,
) ([]render.Message, error) {
	delivered := make([]render.Message, 0, len(messages))
	var lastErr error

	for _, m := range messages {
		if err := s.rateLimiter.Wait(ctx, routingKey); err != nil {
			return delivered, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		sendStart := s.now()
		resp, err := s.provider.Send(ctx, provider.Email{
			To:       m.To,
			Subject:  m.Subject,
			HTMLBody: m.HTML,
			Tag:      routingKey,
		})
		s.metrics.ObserveNotificationSendDuration(routingKey, s.now().Sub(sendStart))

		if err != nil {
			s.metrics.IncNotificationFailed(routingKey, string(provider.ReasonOf(err)))
			logger.Warn("email send failed",
				zap.String("userId", m.UserID),
				zap.Bool("transient", provider.IsTransient(err)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		fields := []zap.Field{zap.String("userId", m.UserID)}
		if resp != nil {
			fields = append(fields, zap.Int("statusCode", resp.StatusCode), zap.String("providerMessageId", resp.MessageID))
		}
		logger.Debug("email sent", fields...)
		s.metrics.IncNotificationSent(routingKey)
		delivered = append(delivered, m)
	}

	return delivered, lastErr
}

func (s *WorkerService) recordHistory(
	ctx context.Context,
	logger *zap.Logger,
	notification *domain.Notification,
	delivered []render.Message,
	sentAt time.Time,
) {
	if s.history == nil {
		return
	}
	for _, m := range delivered {
		entry := &domain.HistoryEntry{
			UserID:      m.UserID,
			UserEmail:   m.To,
			ContentID:   notification.ContentID,
			RoutingKey:  notification.RoutingKey,
			Subject:     m.Subject,
			HTMLContent: m.HTML,
			SentAt:      sentAt,
		}
		if err := s.history.Create(ctx, entry); err != nil {
			logger.Error("failed to record notification history", zap.String("userId", m.UserID), zap.Error(err))
		}
	}
}
