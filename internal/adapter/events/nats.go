// Package events publishes settlement events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Client wraps a NATS connection with JetStream support.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  zerolog.Logger
}

// Connect dials NATS and prepares a JetStream context.
func Connect(cfg config.NATSConfig, log zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("NATS connection established")

	return &Client{conn: conn, js: js, log: log}, nil
}

// EnsureStream creates or updates the stream capturing every settlement subject.
func (c *Client) EnsureStream(ctx context.Context, name, subjectPrefix string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subjectPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", name, err)
	}
	c.log.Info().Str("stream", name).Str("subjects", subjectPrefix+".>").Msg("stream ensured")
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

// Ping implements ports.HealthChecker.
func (c *Client) Ping(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return "nats"
}

// streamPublisher is the subset of jetstream.JetStream the Publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher implements ports.EventPublisher on JetStream. Subjects are
// "<prefix>.intent.completed" and "<prefix>.intent.failed"; the event ID is
// sent as the message ID so redeliveries are deduplicated by the stream.
type Publisher struct {
	js     streamPublisher
	prefix string
	log    zerolog.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(js streamPublisher, subjectPrefix string, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, prefix: subjectPrefix, log: log}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(event *domain.PaymentEvent) string {
	return p.prefix + "." + event.Type
}

// Publish publishes an event.
func (p *Publisher) Publish(ctx context.Context, event *domain.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := p.Subject(event)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.log.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Str("intent_id", event.IntentID.String()).
		Msg("event published")
	return nil
}

// LogPublisher writes events to the log. It is used when NATS is not configured.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event *domain.PaymentEvent) error {
	p.log.Info().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("intent_id", event.IntentID.String()).
		Str("owner_id", event.OwnerID).
		Str("status", string(event.Status)).
		Int64("amount", event.Amount).
		Str("currency", event.Currency).
		Msg("payment event")
	return nil
}
