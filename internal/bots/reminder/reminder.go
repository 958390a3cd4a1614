// Package reminder implements the ad-hoc reminder bot: set a reminder with
// a human phrase, get pinged when it lands.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/state"
)

// Reminder is one pending reminder.
type Reminder struct {
	Time time.Time `json:"time"`
	Task string    `json:"task"`
}

// State is the persisted reminder list.
type State struct {
	Reminders []Reminder `json:"reminders,omitempty"`
}

// Notifier delivers due reminders. Implemented by alert.Alerter.
type Notifier interface {
	Alert(ctx context.Context, text string)
}

// Bot is the reminder command handler and due checker.
type Bot struct {
	store    *state.Store[State]
	notifier Notifier
	clock    clockwork.Clock
}

// Option customizes a Bot.
type Option func(*Bot)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bot) { b.clock = c }
}

// New builds the reminder bot over a state file.
func New(statePath string, notifier Notifier, opts ...Option) (*Bot, error) {
	store, err := state.NewStore(statePath, func() State { return State{} })
	if err != nil {
		return nil, fmt.Errorf("open reminder state: %w", err)
	}

	b := &Bot{store: store, notifier: notifier, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name implements router.Handler.
func (b *Bot) Name() string { return "reminder" }

// HandleCommand implements router.Handler.
func (b *Bot) HandleCommand(_ context.Context, text string) (*router.Reply, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "/remind":
		return b.add(strings.TrimSpace(strings.TrimPrefix(text, "/remind")))
	case "/list":
		return b.list(), nil
	case "/del":
		return b.del(fields[1:])
	case "/usage", "/help":
		return router.Text(usage), nil
	}
	return nil, nil
}

const usage = `Reminder commands:
/remind WHEN | TASK - e.g. /remind tomorrow 08:30 | take the car in
  WHEN can be "in 20 minutes", "2h", "tomorrow", "friday 18:00", "3pm"
/list - pending reminders
/del N - delete reminder N from /list
/usage - this message`

func (b *Bot) add(rest string) (*router.Reply, error) {
	when, task, ok := strings.Cut(rest, "|")
	if !ok || strings.TrimSpace(task) == "" {
		return router.Text("Format is /remind WHEN | TASK, see /usage"), nil
	}
	task = strings.TrimSpace(task)

	at, err := ParseWhen(when, b.clock.Now())
	if err != nil {
		return router.Text(err.Error() + ", see /usage"), nil
	}
	if !at.After(b.clock.Now()) {
		return router.Text("That time has already passed."), nil
	}

	uerr := b.store.Update(func(s *State) error {
		s.Reminders = append(s.Reminders, Reminder{Time: at, Task: task})
		return nil
	})
	if uerr != nil {
		return nil, uerr
	}
	return router.Text(fmt.Sprintf("Will remind you %s: %s", at.Format("Mon 2 Jan 15:04"), task)), nil
}

func (b *Bot) list() *router.Reply {
	reminders := b.sorted()
	if len(reminders) == 0 {
		return router.Text("No reminders set.")
	}

	var lines []string
	for i, r := range reminders {
		lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, r.Time.Format("Mon 2 Jan 15:04"), r.Task))
	}
	return router.Text(strings.Join(lines, "\n"))
}

func (b *Bot) del(args []string) (*router.Reply, error) {
	if len(args) == 0 {
		return router.Text("Which one? /del N with N from /list"), nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return router.Text("Which one? /del N with N from /list"), nil
	}

	reminders := b.sorted()
	if n < 1 || n > len(reminders) {
		return router.Text(fmt.Sprintf("There are %d reminders, see /list", len(reminders))), nil
	}
	target := reminders[n-1]

	uerr := b.store.Update(func(s *State) error {
		for i, r := range s.Reminders {
			if r.Time.Equal(target.Time) && r.Task == target.Task {
				s.Reminders = append(s.Reminders[:i], s.Reminders[i+1:]...)
				break
			}
		}
		return nil
	})
	if uerr != nil {
		return nil, uerr
	}
	return router.Text(fmt.Sprintf("Deleted: %s", target.Task)), nil
}

// sorted returns the pending reminders in firing order; /list numbering
// and /del indexes both come from this order.
func (b *Bot) sorted() []Reminder {
	var reminders []Reminder
	b.store.View(func(s State) {
		reminders = append([]Reminder(nil), s.Reminders...)
	})
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].Time.Before(reminders[j].Time) })
	return reminders
}

// DueCheck fires every reminder whose time has arrived and drops it from
// the list. Wired to the hub scheduler.
func (b *Bot) DueCheck(ctx context.Context) error {
	now := b.clock.Now()
	var due []Reminder

	err := b.store.Update(func(s *State) error {
		var remaining []Reminder
		for _, r := range s.Reminders {
			if r.Time.After(now) {
				remaining = append(remaining, r)
			} else {
				due = append(due, r)
			}
		}
		if len(due) == 0 {
			return nil
		}
		s.Reminders = remaining
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(due, func(i, j int) bool { return due[i].Time.Before(due[j].Time) })
	for _, r := range due {
		b.notifier.Alert(ctx, fmt.Sprintf("Reminder: %s", r.Task))
	}
	return nil
}
