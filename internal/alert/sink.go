// Package alert is the single outbound funnel for the hub. Command replies
// and proactive bot alerts all pass through the Sink, which delivers to the
// message gateway and fans activity out to metrics, the audit history and
// the optional event bus. Fan-out targets are best effort: a broken audit
// database never blocks a bin reminder.
package alert

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/homehub/internal/events"
	"git.home.luguber.info/inful/homehub/internal/history"
	"git.home.luguber.info/inful/homehub/internal/logfields"
	"git.home.luguber.info/inful/homehub/internal/metrics"
	"git.home.luguber.info/inful/homehub/internal/router"
)

// replyBot labels router-driven replies in metrics and history, where the
// originating bot is not visible to the sink.
const replyBot = "reply"

// Transport delivers messages to the gateway. Implemented by signal.Client.
type Transport interface {
	Send(ctx context.Context, recipient router.Recipient, text string) error
	SendFile(ctx context.Context, recipient router.Recipient, text, path string) error
}

// Auditor records delivered messages. Implemented by history.Store.
type Auditor interface {
	Append(ctx context.Context, e history.Entry) error
}

// EventPublisher broadcasts hub activity. Implemented by events.Publisher.
type EventPublisher interface {
	Publish(event events.Event) error
}

// Sink delivers outbound messages and fans out observability side effects.
// Safe for concurrent use by multiple bot loops.
type Sink struct {
	transport Transport
	metrics   metrics.Recorder
	auditor   Auditor
	publisher EventPublisher
}

// Option customizes a Sink.
type Option func(*Sink)

// WithMetrics wires delivery counters into the sink.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Sink) { s.metrics = m }
}

// WithAuditor records every delivered message in the audit history.
func WithAuditor(a Auditor) Option {
	return func(s *Sink) { s.auditor = a }
}

// WithPublisher broadcasts every delivered message on the event bus.
func WithPublisher(p EventPublisher) Option {
	return func(s *Sink) { s.publisher = p }
}

// NewSink builds a sink over a gateway transport.
func NewSink(transport Transport, opts ...Option) *Sink {
	s := &Sink{transport: transport, metrics: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements router.Sender for command replies.
func (s *Sink) Send(ctx context.Context, recipient router.Recipient, text string) error {
	return s.deliver(ctx, replyBot, recipient, text, "")
}

// SendFile implements router.Sender for command replies with attachments.
func (s *Sink) SendFile(ctx context.Context, recipient router.Recipient, text, path string) error {
	return s.deliver(ctx, replyBot, recipient, text, path)
}

// ForBot returns an Alerter bound to one bot and one recipient, for
// proactive alerts outside the command/reply cycle.
func (s *Sink) ForBot(bot string, recipient router.Recipient) *Alerter {
	return &Alerter{sink: s, bot: bot, recipient: recipient}
}

func (s *Sink) deliver(ctx context.Context, bot string, recipient router.Recipient, text, path string) error {
	var err error
	if path != "" {
		err = s.transport.SendFile(ctx, recipient, text, path)
	} else {
		err = s.transport.Send(ctx, recipient, text)
	}
	if err != nil {
		s.metrics.IncSendFailure(bot)
		return err
	}
	s.metrics.IncAlertSent(bot)

	if s.auditor != nil {
		auditErr := s.auditor.Append(ctx, history.Entry{
			Kind:      history.KindAlert,
			Bot:       bot,
			Recipient: string(recipient),
			Body:      text,
			CreatedAt: time.Now(),
		})
		if auditErr != nil {
			slog.Warn("Failed to record alert in history", logfields.Bot(bot), logfields.Error(auditErr))
		}
	}
	if s.publisher != nil {
		pubErr := s.publisher.Publish(events.Event{
			Kind:      "alert",
			Bot:       bot,
			Recipient: string(recipient),
			Text:      text,
		})
		if pubErr != nil {
			slog.Warn("Failed to publish alert event", logfields.Bot(bot), logfields.Error(pubErr))
		}
	}
	return nil
}

// Alerter sends proactive alerts for one bot to one recipient. Delivery
// failures are logged and swallowed so a flaky gateway cannot crash a bot
// loop; the bot decides separately whether to retry its own work.
type Alerter struct {
	sink      *Sink
	bot       string
	recipient router.Recipient
}

// Alert sends a text alert.
func (a *Alerter) Alert(ctx context.Context, text string) {
	if err := a.sink.deliver(ctx, a.bot, a.recipient, text, ""); err != nil {
		slog.Error("Failed to deliver alert",
			logfields.Bot(a.bot),
			logfields.Recipient(string(a.recipient)),
			logfields.Error(err))
	}
}

// AlertFile sends a text alert with a file attachment.
func (a *Alerter) AlertFile(ctx context.Context, text, path string) {
	if err := a.sink.deliver(ctx, a.bot, a.recipient, text, path); err != nil {
		slog.Error("Failed to deliver alert",
			logfields.Bot(a.bot),
			logfields.Recipient(string(a.recipient)),
			logfields.Path(path),
			logfields.Error(err))
	}
}
