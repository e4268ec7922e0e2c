// Package notify delivers lending events outside the process.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"

	"library-lending/library"
)

var json = jsoniter.ConfigFastest

// DefaultQueue is the queue events are published to when none is configured.
const DefaultQueue = "library.events"

// LogNotifier writes events to a logger at debug level. It is used when no
// broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Publish(_ context.Context, e library.Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("lending event", "type", e.Type, "book_id", e.BookID, "user_id", e.UserID)
	return nil
}

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each event as a persistent JSON message to a
// durable queue on the default exchange.
type AMQPPublisher struct {
	conn   *amqp.Connection
	ch     channel
	queue  string
	logger *slog.Logger
}

// Option configures an AMQPPublisher.
type Option func(*AMQPPublisher)

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *AMQPPublisher) { p.logger = logger }
}

// WithQueue overrides DefaultQueue.
func WithQueue(name string) Option {
	return func(p *AMQPPublisher) {
		if name != "" {
			p.queue = name
		}
	}
}

// DialAMQP connects to the broker at url and declares the event queue.
func DialAMQP(url string, dialTimeout time.Duration, opts ...Option) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := newPublisher(ch, opts...)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, opts ...Option) (*AMQPPublisher, error) {
	p := &AMQPPublisher{ch: ch, queue: DefaultQueue, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp queue declare %s: %w", p.queue, err)
	}
	return p, nil
}

// Publish sends e. Failures are logged and returned; the caller decides
// whether they matter.
func (p *AMQPPublisher) Publish(ctx context.Context, e library.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal lending event failed", "type", e.Type, "error", err)
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(e.Type),
		Timestamp:    e.OccurredAt.UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.Error("publish lending event failed", "type", e.Type, "queue", p.queue, "error", err)
		return err
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
