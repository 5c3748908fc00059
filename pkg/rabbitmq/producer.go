// Package rabbitmq publishes JSON events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by EventProducer and EventProducerFallback
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// EventProducer publishes to durable topic exchanges over a single channel
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	logger   *slog.Logger
}

// NewEventProducer dials the broker with a bounded timeout and opens a channel
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		declared: make(map[string]bool),
		logger:   logger,
	}, nil
}

// Publish marshals body to JSON and publishes it. A failed publish reopens the
// channel once and retries.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed, reopening channel",
		slog.String("exchange", exchange),
		slog.Any("error", err))

	if reopenErr := p.reopenLocked(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.publishLocked(ctx, exchange, routingKey, payload)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

func (p *EventProducer) reopenLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	channel, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = channel
	p.declared = make(map[string]bool)
	return nil
}

// Close releases channel and connection resources
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// EventProducerFallback logs events instead of publishing them.
// Used when no broker is configured or it is unreachable at startup.
type EventProducerFallback struct {
	Logger *slog.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "security event",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Any("event", body))
	return nil
}

func (p *EventProducerFallback) Close() {}

// SanitizeURL strips quotes and stray leading characters that env files tend
// to leave around a broker URL, and checks the scheme
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
