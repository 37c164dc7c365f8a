// Package events publishes the command audit trail to RabbitMQ so reporting
// tools can follow classroom activity without reading the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"roboclass/internal/engine"
)

// DefaultQueue receives one message per applied command.
const DefaultQueue = "command.applied"

// Config selects the broker. An empty URL disables publishing.
type Config struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

// CommandApplied is the message body.
type CommandApplied struct {
	LogID       string          `json:"logId"`
	Type        string          `json:"type"`
	Number      int             `json:"number"`
	Successful  bool            `json:"successful"`
	Error       string          `json:"error,omitempty"`
	WhenApplied time.Time       `json:"whenApplied"`
	Command     json.RawMessage `json:"command"`
}

// NewCommandApplied builds the event for a stored command log.
func NewCommandApplied(entry *engine.CommandLog) CommandApplied {
	event := CommandApplied{
		LogID:       entry.ID,
		Type:        entry.Type,
		WhenApplied: entry.WhenApplied,
		Command:     entry.Command,
	}
	if entry.Result != nil {
		event.Number = entry.Result.Number
		event.Successful = entry.Result.WasSuccessful()
		event.Error = entry.Result.Error
	}
	return event
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends CommandApplied events to a durable queue. The connection is
// opened on first use and reopened after a failure.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	dial func() (channel, error)
}

var _ engine.AuditPublisher = (*Publisher)(nil)

// NewPublisher returns a publisher for cfg.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	p := &Publisher{
		url:    cfg.URL,
		queue:  queue,
		logger: logger.With("component", "events"),
	}
	p.dial = p.dialBroker
	return p
}

// PublishCommandLog implements engine.AuditPublisher.
func (p *Publisher) PublishCommandLog(ctx context.Context, entry *engine.CommandLog) error {
	body, err := json.Marshal(NewCommandApplied(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if p.ch, err = p.dial(); err != nil {
			p.logger.Warn("rabbitmq: connect failed", "error", err)
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.WhenApplied,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.Warn("rabbitmq: publish failed", "error", err)
		p.closeLocked()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) dialBroker() (channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open failed: %w", err)
	}
	// Durable queue.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare failed: %w", err)
	}
	p.conn = conn
	return ch, nil
}
