// Package budget implements the shared spending ledger bot. The household
// keeps one running balance topped up by a weekly allowance; commands move
// money in and out and query the recent history.
package budget

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"git.home.luguber.info/inful/homehub/internal/loop"
	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/schedule"
	"git.home.luguber.info/inful/homehub/internal/state"
)

const (
	// dateLayout is how LastWeeklyUpdate is persisted. Day resolution is
	// deliberate: the allowance lands at whatever time the hub happens to
	// check, but catch-up counts whole weeks between dates.
	dateLayout = "2006-01-02"

	allowancePeriod = 7 * 24 * time.Hour
	historyKeep     = 10
)

// Movement is one recorded balance change.
type Movement struct {
	At     string  `json:"at"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// State is the persisted ledger.
type State struct {
	Balance          float64    `json:"balance"`
	WeeklyAmount     float64    `json:"weekly_amount"`
	LastWeeklyUpdate string     `json:"last_weekly_update"`
	History          []Movement `json:"history,omitempty"`
}

// Notifier delivers the weekly allowance alert. Implemented by
// alert.Alerter.
type Notifier interface {
	Alert(ctx context.Context, text string)
}

// Bot is the budget command handler and allowance loop.
type Bot struct {
	store    *state.Store[State]
	notifier Notifier
	printer  *message.Printer
	clock    clockwork.Clock
	sup      *loop.Supervisor
}

// Option customizes a Bot.
type Option func(*Bot)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bot) { b.clock = c }
}

// New builds the budget bot over a state file. weeklyAmount is the
// configured allowance; it overrides whatever amount the state file
// carries so config edits take effect on restart.
func New(statePath string, weeklyAmount float64, notifier Notifier, opts ...Option) (*Bot, error) {
	b := &Bot{
		notifier: notifier,
		printer:  message.NewPrinter(language.BritishEnglish),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}

	store, err := state.NewStore(statePath, func() State {
		return State{
			WeeklyAmount:     weeklyAmount,
			LastWeeklyUpdate: b.clock.Now().Format(dateLayout),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open budget state: %w", err)
	}
	b.store = store
	b.sup = loop.NewSupervisor("budget-allowance", loop.WithClock(b.clock))

	if weeklyAmount > 0 {
		err = store.Update(func(s *State) error {
			s.WeeklyAmount = weeklyAmount
			if s.LastWeeklyUpdate == "" {
				s.LastWeeklyUpdate = b.clock.Now().Format(dateLayout)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("apply weekly amount: %w", err)
		}
	}
	return b, nil
}

// Name implements router.Handler.
func (b *Bot) Name() string { return "budget" }

// HandleCommand implements router.Handler.
func (b *Bot) HandleCommand(_ context.Context, text string) (*router.Reply, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "/balance":
		return b.balance(), nil
	case "/add":
		return b.adjust(fields[1:], +1, "added")
	case "/sub", "/withdraw":
		return b.adjust(fields[1:], -1, "spent")
	case "/set":
		return b.set(fields[1:])
	case "/history":
		return b.history(), nil
	case "/usage", "/help":
		return router.Text(usage), nil
	}
	return nil, nil
}

const usage = `Budget commands:
/balance - show the current balance
/add AMOUNT - put money in
/sub AMOUNT - take money out (/withdraw works too)
/set AMOUNT - set the balance outright
/history - last 10 movements
/usage - this message`

func (b *Bot) balance() *router.Reply {
	var text string
	b.store.View(func(s State) {
		text = b.printer.Sprintf("Balance: £%.2f (weekly top-up £%.2f)", s.Balance, s.WeeklyAmount)
	})
	return router.Text(text)
}

func (b *Bot) adjust(args []string, sign float64, verb string) (*router.Reply, error) {
	amount, err := parseAmount(args)
	if err != nil {
		return router.Text(err.Error()), nil
	}
	note := verb
	if len(args) > 1 {
		note = verb + ": " + strings.Join(args[1:], " ")
	}

	var balance float64
	err = b.store.Update(func(s *State) error {
		s.Balance += sign * amount
		s.History = appendMovement(s.History, Movement{
			At:     b.clock.Now().Format(dateLayout),
			Amount: sign * amount,
			Note:   note,
		})
		balance = s.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return router.Text(b.printer.Sprintf("Recorded £%.2f %s. Balance: £%.2f", amount, verb, balance)), nil
}

func (b *Bot) set(args []string) (*router.Reply, error) {
	amount, err := parseAmount(args)
	if err != nil {
		return router.Text(err.Error()), nil
	}

	err = b.store.Update(func(s *State) error {
		s.Balance = amount
		s.History = appendMovement(s.History, Movement{
			At:     b.clock.Now().Format(dateLayout),
			Amount: amount,
			Note:   "set",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return router.Text(b.printer.Sprintf("Balance set to £%.2f", amount)), nil
}

func (b *Bot) history() *router.Reply {
	var lines []string
	b.store.View(func(s State) {
		for _, m := range s.History {
			lines = append(lines, b.printer.Sprintf("%s: £%+.2f %s", m.At, m.Amount, m.Note))
		}
	})
	if len(lines) == 0 {
		return router.Text("No movements recorded yet")
	}
	return router.Text(strings.Join(lines, "\n"))
}

func parseAmount(args []string) (float64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("amount missing, try /usage")
	}
	raw := strings.TrimPrefix(args[0], "£")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount < 0 {
		return 0, fmt.Errorf("could not read %q as an amount", args[0])
	}
	return amount, nil
}

func appendMovement(history []Movement, m Movement) []Movement {
	history = append(history, m)
	if len(history) > historyKeep {
		history = history[len(history)-historyKeep:]
	}
	return history
}

// Run drives the weekly allowance until ctx is cancelled. Catch-up after
// downtime applies one top-up per whole elapsed week, so the end balance is
// the same whether the hub was down for three weeks or restarted daily.
func (b *Bot) Run(ctx context.Context) {
	b.sup.Run(ctx, b.applyAllowance)
}

// applyAllowance advances the weekly checkpoint and returns how long to
// sleep until the next occurrence.
func (b *Bot) applyAllowance(ctx context.Context) (time.Duration, error) {
	now := b.clock.Now()
	var next time.Time
	var applied float64
	var newBalance float64

	err := b.store.Update(func(s *State) error {
		last, err := time.Parse(dateLayout, s.LastWeeklyUpdate)
		if err != nil {
			// Unreadable marker: restart the cycle from today rather
			// than guessing a catch-up amount.
			s.LastWeeklyUpdate = now.Format(dateLayout)
			next = now.Add(allowancePeriod)
			return nil
		}

		cp := schedule.Checkpoint{LastFired: last, Period: allowancePeriod}
		advanced, n := cp.Advanced(now)
		if n > 0 {
			applied = float64(n) * s.WeeklyAmount
			s.Balance += applied
			newBalance = s.Balance
			s.LastWeeklyUpdate = advanced.LastFired.Format(dateLayout)
			s.History = appendMovement(s.History, Movement{
				At:     now.Format(dateLayout),
				Amount: applied,
				Note:   "weekly top-up",
			})
		}
		next = advanced.Next()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 && b.notifier != nil {
		b.notifier.Alert(ctx, b.printer.Sprintf("Weekly Allowance: £%.2f added. Balance: £%.2f", applied, newBalance))
	}
	return next.Sub(now), nil
}
