package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/homehub/internal/logfields"
	"git.home.luguber.info/inful/homehub/internal/loop"
)

// ErrNoAnchor is returned by an AnchorFunc when no upcoming occurrence can
// be determined yet; the runner retries after its fallback interval.
var ErrNoAnchor = errors.New("no anchor available")

// DefaultFallback is slept when the anchor cannot be resolved and after an
// exhausted anchor, before asking the resolver again.
const DefaultFallback = time.Hour

// Milestone is a named point in time relative to an anchor event.
type Milestone struct {
	Name   string
	Offset time.Duration // signed offset from the anchor
}

// AnchorFunc resolves the timestamp of the next recurring real-world event.
// It may perform I/O. Returning ErrNoAnchor defers to the fallback sleep;
// any other error is treated as an iteration failure.
type AnchorFunc func(ctx context.Context) (time.Time, error)

// FireFunc is invoked once per milestone per anchor, strictly in ascending
// offset order.
type FireFunc func(ctx context.Context, m Milestone, anchor time.Time)

// Runner walks the milestone sequence for one anchor after another.
//
// Recovery policy is skip, not catch-up: a milestone whose target already
// passed by more than the grace window when the runner looks at it is
// marked done without firing, so a restart never produces a storm of stale
// alerts. Periodic work that must catch up belongs in a Checkpoint instead.
type Runner struct {
	name       string
	clock      clockwork.Clock
	sup        *loop.Supervisor
	milestones []Milestone
	resolve    AnchorFunc
	fire       FireFunc
	fallback   time.Duration
	grace      time.Duration
	backoff    loop.Backoff

	// state for the current anchor; reset whenever the anchor changes
	anchor time.Time
	fired  map[string]bool
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerClock injects a clock; tests pass a fake one.
func WithRunnerClock(c clockwork.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithFallback overrides the no-anchor retry interval.
func WithFallback(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.fallback = d
		}
	}
}

// WithRecoveryGrace allows a milestone to fire late by up to d after its
// target. Outside the window it is skipped.
func WithRecoveryGrace(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithBackoff overrides the error backoff of the underlying supervised loop.
func WithBackoff(b loop.Backoff) RunnerOption {
	return func(r *Runner) { r.backoff = b }
}

// NewRunner builds a milestone runner. Milestones are sorted by offset at
// construction; firing order is therefore always ascending.
func NewRunner(name string, milestones []Milestone, resolve AnchorFunc, fire FireFunc, opts ...RunnerOption) *Runner {
	ms := make([]Milestone, len(milestones))
	copy(ms, milestones)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Offset < ms[j].Offset })

	r := &Runner{
		name:       name,
		clock:      clockwork.NewRealClock(),
		milestones: ms,
		resolve:    resolve,
		fire:       fire,
		fallback:   DefaultFallback,
		fired:      make(map[string]bool),
		backoff:    loop.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sup = loop.NewSupervisor(name, loop.WithClock(r.clock), loop.WithBackoff(r.backoff))
	return r
}

// Run executes cycles forever until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.sup.Run(ctx, r.runCycle)
}

// runCycle resolves an anchor and fires its remaining milestones in order.
// It returns how long the supervisor should sleep before the next cycle.
func (r *Runner) runCycle(ctx context.Context) (time.Duration, error) {
	anchor, err := r.resolve(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAnchor) {
			slog.Info("No anchor available, retrying later",
				logfields.Loop(r.name), slog.Duration("fallback", r.fallback))
			return r.fallback, nil
		}
		return 0, err
	}

	if !anchor.Equal(r.anchor) {
		r.anchor = anchor
		r.fired = make(map[string]bool)
	}

	firedThisCycle := 0
	for _, m := range r.milestones {
		if r.fired[m.Name] {
			continue
		}
		target := anchor.Add(m.Offset)
		now := r.clock.Now()

		if now.Before(target) {
			slog.Info("Sleeping until milestone",
				logfields.Loop(r.name),
				logfields.Milestone(m.Name),
				logfields.Anchor(anchor.Format(time.RFC3339)),
				slog.Duration("in", target.Sub(now)))
			if !r.sup.Sleep(ctx, target.Sub(now)) {
				return 0, nil // cancelled; Run exits on next check
			}
		} else if now.Sub(target) > r.grace {
			// Started too late for this milestone: skip, never back-fire.
			slog.Info("Skipping stale milestone",
				logfields.Loop(r.name),
				logfields.Milestone(m.Name),
				logfields.Anchor(anchor.Format(time.RFC3339)),
				slog.Duration("late_by", now.Sub(target)))
			r.fired[m.Name] = true
			continue
		}

		if ctx.Err() != nil {
			return 0, nil
		}
		r.fire(ctx, m, anchor)
		r.fired[m.Name] = true
		firedThisCycle++
	}

	if firedThisCycle == 0 {
		// Anchor is exhausted and the resolver still returns it (for the
		// bins bot that means the cache refresh has not landed yet). Wait
		// before asking again instead of spinning.
		return r.fallback, nil
	}
	return 0, nil
}
