package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consume binds the work queue to routingKey. Delivery starts with Run.
func (r *RabbitMQ) Consume(ctx context.Context, routingKey string) error {
	if r == nil {
		return fmt.Errorf("%w: client is not initialized", ErrConnection)
	}
	if strings.TrimSpace(routingKey) == "" {
		return fmt.Errorf("routing key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := r.bindQueue(ch, routingKey); err != nil {
		return err
	}
	r.addBinding(routingKey)
	return nil
}

// Run receives messages from the work queue until ctx is canceled, invoking
// handler for each one. The client is closed when Run returns.
func (r *RabbitMQ) Run(ctx context.Context, handler MessageHandler) error {
	if r == nil {
		return fmt.Errorf("%w: client is not initialized", ErrConnection)
	}
	defer r.Close() //nolint:errcheck // best-effort close on every exit path

	if handler == nil {
		return fmt.Errorf("message handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := reconnectBackoff
	for {
		err := r.consumeOnce(ctx, handler)
		if ctx.Err() != nil || r.isClosed() {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		r.logger.Warn("consumer loop interrupted, reconnecting",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (r *RabbitMQ) consumeOnce(ctx context.Context, handler MessageHandler) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	for _, key := range r.boundKeys() {
		if err := r.bindQueue(ch, key); err != nil {
			return err
		}
	}

	deliveries, err := ch.Consume(
		r.cfg.Queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", r.cfg.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := handleDelivery(ctx, d, handler, r.logger); err != nil {
				return err
			}
		}
	}
}

// handleDelivery acknowledges d when handler succeeds and nacks it with
// requeue when handler fails or panics. Messages without a correlation id are
// rejected without requeue.
func handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler, logger *zap.Logger) error {
	msg := messageFromDelivery(d)
	if err := msg.Validate(); err != nil {
		logger.Warn("rejecting message: validation failed",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := invokeHandler(ctx, handler, msg); err != nil {
		logger.Warn("handler failed, message requeued",
			zap.String("correlationId", msg.CorrelationID),
			zap.String("routingKey", msg.RoutingKey),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func invokeHandler(ctx context.Context, handler MessageHandler, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, msg)
}
