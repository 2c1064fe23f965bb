package queue

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeKind     = "topic"
	connectTimeout   = 15 * time.Second
	publishTimeout   = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// Config names the broker endpoint and topology.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("rabbitmq url is required")
	}
	if strings.TrimSpace(c.Exchange) == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}
	if strings.TrimSpace(c.Queue) == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}
	return nil
}

// RabbitMQ is a Channel over a durable topic exchange and one durable queue.
// The connection is re-dialed with backoff when it drops; each operation
// opens its own AMQP channel.
type RabbitMQ struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	closed      bool
	bindings    []string
}

// NewRabbitMQ connects to the broker and declares the topic exchange.
func NewRabbitMQ(ctx context.Context, cfg Config, logger *zap.Logger) (*RabbitMQ, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := &RabbitMQ{cfg: cfg, logger: logger, now: time.Now}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ch, err := r.channel(connectCtx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

// Close releases the connection. It is safe to call more than once.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.closed = true
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *RabbitMQ) addBinding(routingKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.bindings, routingKey) {
		r.bindings = append(r.bindings, routingKey)
	}
}

func (r *RabbitMQ) boundKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.bindings)
}

// channel opens an AMQP channel with the exchange declared.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if r.isClosed() {
		return nil, fmt.Errorf("%w: client is closed", ErrConnection)
	}
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := r.reconnectWithBackoff(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create channel after reconnect: %w", ErrConnection, err)
		}
	}

	if err := ch.ExchangeDeclare(r.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: failed to declare exchange %q: %w", ErrConnection, r.cfg.Exchange, err)
	}

	return ch, nil
}

// bindQueue declares the durable work queue and binds it to routingKey.
func (r *RabbitMQ) bindQueue(ch *amqp.Channel, routingKey string) error {
	if _, err := ch.QueueDeclare(r.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: failed to declare queue %q: %w", ErrConnection, r.cfg.Queue, err)
	}
	if err := ch.QueueBind(r.cfg.Queue, routingKey, r.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("%w: failed to bind queue %q to %q: %w", ErrConnection, r.cfg.Queue, routingKey, err)
	}
	return nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.cfg.URL)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		r.logger.Warn("rabbitmq dial failed, retrying",
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: reconnect canceled: %w", ErrConnection, ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	current *= 2
	if current > maxBackoff {
		current = maxBackoff
	}
	return current
}
