package queue

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Message is a delivered broker message.
type Message struct {
	Body          []byte
	CorrelationID string
	RoutingKey    string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.CorrelationID) == "" {
		return fmt.Errorf("correlation id is required")
	}
	if strings.TrimSpace(m.RoutingKey) == "" {
		return fmt.Errorf("routing key is required")
	}
	return nil
}

func messageFromDelivery(d amqp.Delivery) Message {
	return Message{
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		RoutingKey:    d.RoutingKey,
	}
}

func newPublishing(payload []byte, correlationID string, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		CorrelationId: correlationID,
		Body:          payload,
	}
}
