// Package router maps inbound conversation identities to bot handlers and
// forwards their replies to the configured outbound recipients. The router
// itself is a stateless lookup: all conversational state lives inside each
// handler.
package router

import (
	"context"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// RoutingKey identifies a conversation on the inbound side (a group id or
// a direct sender identity). Supplied by the transport, never generated.
type RoutingKey string

// Recipient identifies where outbound messages for a route are sent. It is
// distinct from the routing key: commands can arrive from a group while
// replies go to a number, or vice versa.
type Recipient string

// Reply is the closed two-case union a handler can produce: plain text, or
// text with a file attachment.
type Reply struct {
	Text           string
	AttachmentPath string
}

// Text builds a plain text reply.
func Text(s string) *Reply { return &Reply{Text: s} }

// File builds a text reply carrying an attachment.
func File(text, path string) *Reply { return &Reply{Text: text, AttachmentPath: path} }

// Handler interprets one command for one bot. A nil reply with a nil error
// means the text was not a recognized command; nothing is sent.
type Handler interface {
	Name() string
	HandleCommand(ctx context.Context, text string) (*Reply, error)
}

// Route binds one conversation to one handler and one outbound recipient.
// Routes are created from configuration at startup and never mutated.
type Route struct {
	Key       RoutingKey
	Recipient Recipient
	Handler   Handler
}

// Sender forwards a reply to a recipient. Implemented by alert.Sink.
type Sender interface {
	Send(ctx context.Context, recipient Recipient, text string) error
	SendFile(ctx context.Context, recipient Recipient, text, path string) error
}

// Metrics receives dispatch counters. Satisfied by metrics.Recorder.
type Metrics interface {
	IncCommandDispatched(bot string)
	IncCommandUnknownSource()
}

// Router dispatches inbound command text to exactly one handler.
type Router struct {
	routes  map[RoutingKey]Route
	send    Sender
	metrics Metrics
}

// Option customizes a Router.
type Option func(*Router)

// WithMetrics wires dispatch counters into the router.
func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New builds a router over a static route table. Later duplicates of a
// routing key win, matching "last configuration entry applies".
func New(routes []Route, send Sender, opts ...Option) *Router {
	table := make(map[RoutingKey]Route, len(routes))
	for _, r := range routes {
		table[r.Key] = r
	}
	router := &Router{routes: table, send: send}
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// Routes returns the number of configured routes.
func (r *Router) Routes() int { return len(r.routes) }

// HandlerName reports which bot a routing key is bound to.
func (r *Router) HandlerName(key RoutingKey) (string, bool) {
	route, ok := r.routes[key]
	if !ok {
		return "", false
	}
	return route.Handler.Name(), true
}

// Dispatch routes one inbound command. Unknown keys are dropped with a low
// severity log: strangers are ignored by design, not an error. Handler
// failures are logged and produce no reply; send failures are logged and
// swallowed so dispatch never escalates into the caller's loop.
func (r *Router) Dispatch(ctx context.Context, key RoutingKey, text string) {
	route, ok := r.routes[key]
	if !ok {
		if r.metrics != nil {
			r.metrics.IncCommandUnknownSource()
		}
		slog.Debug("Ignoring command from unknown source", logfields.Route(string(key)))
		return
	}

	if r.metrics != nil {
		r.metrics.IncCommandDispatched(route.Handler.Name())
	}
	command := firstToken(text)
	reply, err := route.Handler.HandleCommand(ctx, text)
	if err != nil {
		slog.Error("Handler failed",
			logfields.Bot(route.Handler.Name()),
			logfields.Command(command),
			logfields.Error(err))
		return
	}
	if reply == nil {
		slog.Debug("Unrecognized command",
			logfields.Bot(route.Handler.Name()),
			logfields.Command(command))
		return
	}

	var sendErr error
	if reply.AttachmentPath != "" {
		sendErr = r.send.SendFile(ctx, route.Recipient, reply.Text, reply.AttachmentPath)
	} else {
		sendErr = r.send.Send(ctx, route.Recipient, reply.Text)
	}
	if sendErr != nil {
		slog.Error("Failed to send reply",
			logfields.Bot(route.Handler.Name()),
			logfields.Recipient(string(route.Recipient)),
			logfields.Error(sendErr))
	}
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
