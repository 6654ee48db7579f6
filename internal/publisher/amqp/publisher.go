// Package amqp publishes change events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// channel is the subset of *amqp.Channel the publisher relies on.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config controls the broker connection.
type Config struct {
	URL      string
	Exchange string
}

// Publisher sends JSON messages routed by topic.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	newID    func() (string, error)
	now      func() time.Time
}

// New dials the broker, opens a channel, and declares the exchange.
func New(cfg Config, newID func() (string, error)) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newWithChannel(ch, cfg.Exchange, newID)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newWithChannel(ch channel, exchange string, newID func() (string, error)) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	if newID == nil {
		return nil, errors.New("id generator is required")
	}
	// Durable topic exchange so consumers can bind on wildcard routing keys.
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, newID: newID, now: time.Now}, nil
}

// Publish routes payload to the exchange using topic as the routing key.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := p.newID()
	if err != nil {
		return "", err
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.now().UTC(),
		Type:         topic,
		Body:         body,
		Headers:      headers,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	return id, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// headerCarrier adapts amqp headers to propagation.TextMapCarrier.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
