// Package events publishes sandbox lifecycle transitions to RabbitMQ so
// downstream consumers (dashboards, audit) see status changes without polling
// the database. Publishing is best-effort: a broker outage never blocks a
// status transition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "sandbox"
	ExchangeType = "topic"
	QueueStatus  = "sandbox.status"
)

type StatusChange struct {
	SandboxID string    `json:"sandbox_id"`
	OrgID     string    `json:"org_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	PublishStatusChange(ctx context.Context, change StatusChange) error
	Close() error
}

type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQPublisher connects and declares the sandbox exchange and status
// queue.
func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(rabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueStatus, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare status queue: %w", err)
	}

	if err := ch.QueueBind(QueueStatus, "*.status", ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind status queue: %w", err)
	}

	log.Println("✅ RabbitMQ publisher connected and exchange declared")

	return &RabbitMQPublisher{conn: conn, channel: ch}, nil
}

func (p *RabbitMQPublisher) PublishStatusChange(ctx context.Context, change StatusChange) error {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		ExchangeName,
		"sandbox.status",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish status change: %w", err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher drops all events. Used in tests and when no broker is
// configured.
type NopPublisher struct{}

func (NopPublisher) PublishStatusChange(ctx context.Context, change StatusChange) error { return nil }
func (NopPublisher) Close() error                                                       { return nil }
