package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Produce binds the work queue to routingKey and publishes payload as a
// persistent message. It waits for the broker's publisher confirm for at most
// publishTimeout.
func (r *RabbitMQ) Produce(ctx context.Context, routingKey string, payload []byte, correlationID string) error {
	if r == nil {
		return fmt.Errorf("%w: client is not initialized", ErrConnection)
	}
	if strings.TrimSpace(routingKey) == "" {
		return fmt.Errorf("routing key is required")
	}
	if strings.TrimSpace(correlationID) == "" {
		return fmt.Errorf("correlation id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return publishError(ctx, err)
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := r.bindQueue(ch, routingKey); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: failed to enable publisher confirms: %w", ErrConnection, err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		r.cfg.Exchange,
		routingKey,
		false,
		false,
		newPublishing(payload, correlationID, r.now()),
	)
	if err != nil {
		return publishError(ctx, fmt.Errorf("failed to publish to %q: %w", routingKey, err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return publishError(ctx, err)
	}
	if !acked {
		return fmt.Errorf("%w: routing key %q", ErrPublishNacked, routingKey)
	}

	r.logger.Debug("message published",
		zap.String("routingKey", routingKey),
		zap.String("correlationId", correlationID),
	)
	return nil
}

func publishError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPublishTimeout, err)
	}
	if errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
