package queue

import (
	"context"
	"errors"
)

var (
	// ErrConnection reports that the broker could not be reached or the topology could not be declared.
	ErrConnection = errors.New("broker connection error")
	// ErrPublishTimeout reports that the broker did not confirm a publish in time.
	ErrPublishTimeout = errors.New("broker publish timeout")
	// ErrPublishNacked reports that the broker refused a publish.
	ErrPublishNacked = errors.New("broker publish nacked")
)

// Producer publishes payloads to the topic exchange.
type Producer interface {
	Produce(ctx context.Context, routingKey string, payload []byte, correlationID string) error
}

// MessageHandler handles a delivered message. A nil return acknowledges the
// message; any error leaves it for redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer binds routing keys to the work queue and delivers its messages.
type Consumer interface {
	Consume(ctx context.Context, routingKey string) error
	Run(ctx context.Context, handler MessageHandler) error
}

// Channel is a durable topic publish/subscribe channel.
type Channel interface {
	Producer
	Consumer
	Close() error
}

var _ Channel = (*RabbitMQ)(nil)
