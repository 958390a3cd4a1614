// Package trains implements the departure board bot. On demand it shows a
// station's live board; beyond that the household can watch an individual
// departure and get told when its estimate or platform changes, until the
// train leaves.
package trains

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/homehub/internal/metrics"
	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/watch"
)

// Notifier delivers proactive alerts. Implemented by alert.Alerter.
type Notifier interface {
	Alert(ctx context.Context, text string)
}

// Bot is the trains command handler and watch ticker.
type Bot struct {
	board      Board
	defaultCRS string
	notifier   Notifier
	engine     *watch.Engine
	metrics    metrics.Recorder
}

// Option customizes a Bot.
type Option func(*Bot)

// WithMetrics wires watch and fetch metrics into the bot.
func WithMetrics(m metrics.Recorder) Option {
	return func(b *Bot) { b.metrics = m }
}

// New builds the trains bot over a departure board source.
func New(board Board, defaultCRS string, notifier Notifier, opts ...Option) *Bot {
	b := &Bot{
		board:      board,
		defaultCRS: strings.ToUpper(defaultCRS),
		notifier:   notifier,
		metrics:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}

	fetch := func(ctx context.Context, partition string) ([]watch.Record, error) {
		services, err := b.board.Departures(ctx, partition)
		if err != nil {
			b.metrics.IncFetchFailure("trains")
			return nil, err
		}
		records := make([]watch.Record, len(services))
		for i, s := range services {
			records[i] = s
		}
		return records, nil
	}
	terminal := func(r watch.Record) bool {
		s, ok := r.(Service)
		return ok && s.Departed()
	}
	b.engine = watch.NewEngine("trains", fetch, terminal, b.onChange)
	return b
}

// Name implements router.Handler.
func (b *Bot) Name() string { return "trains" }

var timeRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

// HandleCommand implements router.Handler.
func (b *Bot) HandleCommand(ctx context.Context, text string) (*router.Reply, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "/trains":
		return b.showBoard(ctx, fields[1:])
	case "/watch":
		return b.addWatch(fields[1:]), nil
	case "/unwatch":
		return b.removeWatch(fields[1:]), nil
	case "/watching":
		return b.listWatches(), nil
	case "/usage", "/help":
		return router.Text(usage), nil
	}
	return nil, nil
}

const usage = `Train commands:
/trains [CRS] - live departure board
/watch HH:MM [CRS] - alert when that departure changes
/unwatch [HH:MM] - stop watching one departure, or all of them
/watching - list active watches
/usage - this message`

func (b *Bot) showBoard(ctx context.Context, args []string) (*router.Reply, error) {
	crs := b.defaultCRS
	if len(args) > 0 {
		crs = strings.ToUpper(args[0])
	}

	services, err := b.board.Departures(ctx, crs)
	if err != nil {
		return router.Text(fmt.Sprintf("Couldn't reach the departure board for %s just now.", crs)), nil
	}
	if len(services) == 0 {
		return router.Text(fmt.Sprintf("No departures listed for %s.", crs)), nil
	}

	var lines []string
	for _, s := range services {
		platform := s.Platform
		if platform == "" {
			platform = "-"
		}
		lines = append(lines, fmt.Sprintf("%s to %s: %s (plat %s)", s.STD, s.Destination, s.ETD, platform))
	}
	return router.Text(fmt.Sprintf("Departures from %s:\n%s", crs, strings.Join(lines, "\n"))), nil
}

func (b *Bot) addWatch(args []string) *router.Reply {
	if len(args) == 0 || !timeRe.MatchString(args[0]) {
		return router.Text("Tell me which departure, like /watch 18:45")
	}
	crs := b.defaultCRS
	if len(args) > 1 {
		crs = strings.ToUpper(args[1])
	}

	b.engine.Add(args[0], crs)
	b.metrics.SetActiveWatches("trains", b.engine.Len())
	return router.Text(fmt.Sprintf("Watching the %s from %s.", args[0], crs))
}

func (b *Bot) removeWatch(args []string) *router.Reply {
	defer b.metrics.SetActiveWatches("trains", b.engine.Len())

	if len(args) == 0 {
		n := b.engine.Clear()
		if n == 0 {
			return router.Text("Nothing was being watched.")
		}
		return router.Text(fmt.Sprintf("Stopped watching %d departures.", n))
	}
	if b.engine.Remove(args[0]) {
		return router.Text(fmt.Sprintf("Stopped watching the %s.", args[0]))
	}
	return router.Text(fmt.Sprintf("The %s wasn't being watched.", args[0]))
}

func (b *Bot) listWatches() *router.Reply {
	keys := b.engine.Keys()
	if len(keys) == 0 {
		return router.Text("Nothing is being watched.")
	}
	return router.Text("Watching: " + strings.Join(keys, ", "))
}

// Tick runs one watch pass. Wired to the hub scheduler.
func (b *Bot) Tick(ctx context.Context) error {
	_, removed, err := b.engine.Tick(ctx)
	if len(removed) > 0 {
		b.metrics.SetActiveWatches("trains", b.engine.Len())
	}
	return err
}

// onChange formats a change alert. The unknown-to-known transition also
// alerts: the first look at a watched train is news to the household.
func (b *Bot) onChange(ctx context.Context, w watch.Watch, _ string, current watch.Record) {
	s, ok := current.(Service)
	if !ok {
		return
	}

	platform := s.Platform
	if platform == "" {
		platform = "TBC"
	}
	b.notifier.Alert(ctx, fmt.Sprintf("%s to %s: %s, platform %s", s.STD, s.Destination, s.ETD, platform))

	if s.Departed() {
		b.notifier.Alert(ctx, fmt.Sprintf("The %s has departed. Watch removed.", s.STD))
	}
}
