// Package events publishes hub activity onto a NATS JetStream subject so
// other services on the home network (dashboards, automations) can react
// to alerts without talking to the Signal gateway themselves. The whole
// package is optional: the hub runs fine with publishing disabled.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// Event is one hub occurrence worth broadcasting.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // alert|command|lifecycle
	Bot       string    `json:"bot,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher manages the NATS connection and stream for hub events.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	stream  string
}

// NewPublisher connects to NATS and ensures the hub event stream exists.
func NewPublisher(url, stream, subject string) (*Publisher, error) {
	if url == "" || subject == "" {
		return nil, fmt.Errorf("nats url and subject are required")
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js, subject: subject, stream: stream}
	if err := p.initStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	slog.Info("NATS publisher initialized", logfields.Subject(subject), slog.String("stream", stream))
	return p, nil
}

// initStream creates or reuses the event stream.
func (p *Publisher) initStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, p.stream); err == nil {
		return nil
	}

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        p.stream,
		Description: "Homehub activity events",
		Subjects:    []string{p.subject},
		MaxBytes:    64 * 1024 * 1024,
		MaxAge:      30 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Publish broadcasts one event. A missing ID or timestamp is filled in.
func (p *Publisher) Publish(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Published hub event",
		logfields.Subject(p.subject),
		slog.String("kind", event.Kind),
		logfields.Bot(event.Bot))
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
