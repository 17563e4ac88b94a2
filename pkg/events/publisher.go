package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bookstock/pkg/domain"
)

// Movement is the event emitted for every committed ledger entry.
type Movement struct {
	BookID   uint                  `json:"bookId"`
	Barcode  string                `json:"barcode,omitempty"`
	Quantity int                   `json:"quantity"`
	Source   domain.MovementSource `json:"source"`
	At       time.Time             `json:"at"`
}

// Publisher delivers stock-movement events to interested consumers.
// Publishing is best-effort: callers log failures and move on, a broker
// outage must never fail a committed stock operation.
type Publisher interface {
	PublishMovement(ctx context.Context, m Movement) error
	Close() error
}

// AMQPPublisher publishes movements to a durable RabbitMQ queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// PublishMovement sends one movement event as JSON.
func (p *AMQPPublisher) PublishMovement(ctx context.Context, m Movement) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal movement: %w", err)
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
