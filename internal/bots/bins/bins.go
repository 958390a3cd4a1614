// Package bins implements the kerbside collection reminder bot. It scrapes
// the council's schedule page, caches the upcoming collections and walks a
// fixed milestone sequence around each collection day: a reminder the
// evening before, one on the morning itself, and a cache refresh the day
// after.
package bins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/homehub/internal/logfields"
	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/schedule"
	"git.home.luguber.info/inful/homehub/internal/state"
)

const (
	// Offsets are relative to midnight on collection day.
	nightBeforeOffset = -6 * time.Hour // 18:00 the evening before
	morningOfOffset   = 7 * time.Hour  // 07:00 on the day
	refreshOffset     = 33 * time.Hour // 09:00 the day after
)

// Notifier delivers proactive reminders. Implemented by alert.Alerter.
type Notifier interface {
	Alert(ctx context.Context, text string)
}

// State is the cached schedule.
type State struct {
	Collections []Collection `json:"collections,omitempty"`
	FetchedAt   time.Time    `json:"fetched_at,omitempty"`
}

// Bot is the bins command handler and reminder loop.
type Bot struct {
	store    *state.Store[State]
	fetcher  Fetcher
	notifier Notifier
	clock    clockwork.Clock
	runner   *schedule.Runner
}

// Option customizes a Bot.
type Option func(*Bot)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bot) { b.clock = c }
}

// New builds the bins bot over a state file, a schedule fetcher and a
// reminder notifier.
func New(statePath string, fetcher Fetcher, notifier Notifier, opts ...Option) (*Bot, error) {
	store, err := state.NewStore(statePath, func() State { return State{} })
	if err != nil {
		return nil, fmt.Errorf("open bins state: %w", err)
	}

	b := &Bot{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}

	milestones := []schedule.Milestone{
		{Name: "night-before", Offset: nightBeforeOffset},
		{Name: "morning-of", Offset: morningOfOffset},
		{Name: "refresh", Offset: refreshOffset},
	}
	b.runner = schedule.NewRunner("bins", milestones, b.resolveAnchor, b.fireMilestone,
		schedule.WithRunnerClock(b.clock),
		schedule.WithRecoveryGrace(30*time.Minute))
	return b, nil
}

// Name implements router.Handler.
func (b *Bot) Name() string { return "bins" }

// HandleCommand implements router.Handler.
func (b *Bot) HandleCommand(ctx context.Context, text string) (*router.Reply, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "/bins":
		return b.upcoming(ctx), nil
	case "/usage", "/help":
		return router.Text("Bin commands:\n/bins - upcoming collections\n/usage - this message"), nil
	}
	return nil, nil
}

func (b *Bot) upcoming(ctx context.Context) *router.Reply {
	collections := b.cachedUpcoming()
	if len(collections) == 0 {
		fetched, err := b.fetchAndSave(ctx)
		if err != nil {
			return router.Text("Couldn't check just now, the council site is slow. Try again in a few minutes.")
		}
		collections = upcomingOf(fetched, b.clock.Now())
	}
	if len(collections) == 0 {
		return router.Text("No upcoming collections found.")
	}

	var lines []string
	for _, c := range collections {
		lines = append(lines, fmt.Sprintf("%s: %s", c.Date.Format("Monday 2 January"), c.Type))
	}
	return router.Text("Upcoming collections:\n" + strings.Join(lines, "\n"))
}

// Run drives the reminder milestones until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.runner.Run(ctx)
}

// resolveAnchor picks midnight of the next collection day whose milestone
// sequence is not yet exhausted, fetching the schedule when the cache has
// nothing usable.
func (b *Bot) resolveAnchor(ctx context.Context) (time.Time, error) {
	if anchor, ok := b.nextAnchorFromCache(); ok {
		return anchor, nil
	}

	collections, err := b.fetchAndSave(ctx)
	if err != nil {
		slog.Warn("Failed to fetch bin schedule", logfields.Bot("bins"), logfields.Error(err))
		return time.Time{}, schedule.ErrNoAnchor
	}
	if anchor, ok := nextAnchor(collections, b.clock.Now()); ok {
		return anchor, nil
	}
	return time.Time{}, schedule.ErrNoAnchor
}

func (b *Bot) nextAnchorFromCache() (time.Time, bool) {
	var collections []Collection
	b.store.View(func(s State) { collections = s.Collections })
	return nextAnchor(collections, b.clock.Now())
}

// nextAnchor returns midnight of the earliest collection day whose refresh
// milestone is still ahead. Days past that point are spent: walking them
// again would only produce stale reminders for the runner to skip.
func nextAnchor(collections []Collection, now time.Time) (time.Time, bool) {
	best := time.Time{}
	for _, c := range collections {
		anchor := midnight(c.Date)
		if !anchor.Add(refreshOffset).After(now) {
			continue
		}
		if best.IsZero() || anchor.Before(best) {
			best = anchor
		}
	}
	return best, !best.IsZero()
}

func (b *Bot) fireMilestone(ctx context.Context, m schedule.Milestone, anchor time.Time) {
	switch m.Name {
	case "night-before":
		if types := b.typesOn(anchor); len(types) > 0 {
			b.notifier.Alert(ctx, fmt.Sprintf("Bins out tonight: %s", strings.Join(types, ", ")))
		}
	case "morning-of":
		if types := b.typesOn(anchor); len(types) > 0 {
			b.notifier.Alert(ctx, fmt.Sprintf("Bin day today: %s", strings.Join(types, ", ")))
		}
	case "refresh":
		if _, err := b.fetchAndSave(ctx); err != nil {
			slog.Warn("Schedule refresh failed, keeping cached data",
				logfields.Bot("bins"), logfields.Error(err))
		}
	}
}

// typesOn lists the collection types scheduled for the anchor day.
func (b *Bot) typesOn(anchor time.Time) []string {
	var types []string
	b.store.View(func(s State) {
		for _, c := range s.Collections {
			if midnight(c.Date).Equal(anchor) {
				types = append(types, c.Type)
			}
		}
	})
	sort.Strings(types)
	return types
}

func (b *Bot) fetchAndSave(ctx context.Context) ([]Collection, error) {
	collections, err := b.fetcher.Collections(ctx)
	if err != nil {
		return nil, err
	}
	err = b.store.Update(func(s *State) error {
		s.Collections = collections
		s.FetchedAt = b.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Bin schedule refreshed", logfields.Bot("bins"), logfields.Count(len(collections)))
	return collections, nil
}

func (b *Bot) cachedUpcoming() []Collection {
	var collections []Collection
	b.store.View(func(s State) { collections = s.Collections })
	return upcomingOf(collections, b.clock.Now())
}

func upcomingOf(collections []Collection, now time.Time) []Collection {
	var out []Collection
	today := midnight(now)
	for _, c := range collections {
		if !midnight(c.Date).Before(today) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
