// Package loop provides the supervised loop primitive shared by every
// background task in the hub: run one iteration, on failure log and back
// off, on success sleep whatever delay the iteration asked for, repeat
// until the context is cancelled. A single failure never terminates a loop.
package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// IterateFunc runs one loop iteration and returns how long to sleep before
// the next one. A zero or negative delay means "run again immediately".
// Returning an error discards the delay and applies the supervisor backoff
// instead.
type IterateFunc func(ctx context.Context) (time.Duration, error)

// Supervisor drives an IterateFunc forever.
type Supervisor struct {
	name    string
	clock   clockwork.Clock
	backoff Backoff
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock injects a clock; tests pass a fake one.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithBackoff overrides the failure backoff policy.
func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) { s.backoff = b }
}

// NewSupervisor creates a supervisor named for log correlation.
func NewSupervisor(name string, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:    name,
		clock:   clockwork.NewRealClock(),
		backoff: DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes iterate until ctx is cancelled. Errors are logged and
// followed by the backoff delay; they never propagate out of Run.
func (s *Supervisor) Run(ctx context.Context, iterate IterateFunc) {
	failures := 0
	for {
		if ctx.Err() != nil {
			slog.Info("Loop stopped", logfields.Loop(s.name))
			return
		}

		delay, err := iterate(ctx)
		if err != nil {
			failures++
			delay = s.backoff.Delay(failures)
			slog.Error("Loop iteration failed",
				logfields.Loop(s.name),
				logfields.Error(err),
				slog.Duration("backoff", delay),
				slog.Int("consecutive_failures", failures))
		} else {
			failures = 0
		}

		if delay <= 0 {
			continue
		}
		if !s.Sleep(ctx, delay) {
			slog.Info("Loop stopped", logfields.Loop(s.name))
			return
		}
	}
}

// Sleep waits for d or until ctx is cancelled. It reports true when the
// full delay elapsed. Non-positive delays return immediately.
func (s *Supervisor) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

// Clock exposes the supervisor clock so the supervised body can share it.
func (s *Supervisor) Clock() clockwork.Clock { return s.clock }
