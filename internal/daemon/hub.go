// Package daemon assembles the hub: the gateway client, the router and
// alert sink, the five bots and the scheduler that drives their periodic
// work, plus the local HTTP endpoint for metrics and health.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/homehub/internal/alert"
	"git.home.luguber.info/inful/homehub/internal/bots/bins"
	"git.home.luguber.info/inful/homehub/internal/bots/budget"
	"git.home.luguber.info/inful/homehub/internal/bots/camera"
	"git.home.luguber.info/inful/homehub/internal/bots/reminder"
	"git.home.luguber.info/inful/homehub/internal/bots/trains"
	"git.home.luguber.info/inful/homehub/internal/config"
	"git.home.luguber.info/inful/homehub/internal/events"
	"git.home.luguber.info/inful/homehub/internal/history"
	"git.home.luguber.info/inful/homehub/internal/logfields"
	"git.home.luguber.info/inful/homehub/internal/metrics"
	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/signal"

	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Hub is the assembled, running home automation daemon.
type Hub struct {
	cfg       *config.Config
	gateway   *signal.Client
	sink      *alert.Sink
	router    *router.Router
	recorder  *metrics.PrometheusRecorder
	registry  *prom.Registry
	history   *history.Store
	publisher *events.Publisher
	scheduler *scheduler
	http      *httpServer
	workers   workerGroup
	clock     clockwork.Clock

	// runnables are the bot loops started as supervised workers.
	runnables map[string]func(ctx context.Context)

	cancel context.CancelFunc
}

// NewHub wires every configured component. A bot with invalid
// configuration is skipped with an error log; the rest of the hub still
// starts.
func NewHub(cfg *config.Config) (*Hub, error) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	historyStore, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	h := &Hub{
		cfg:       cfg,
		gateway:   signal.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Number),
		recorder:  recorder,
		registry:  registry,
		history:   historyStore,
		clock:     clockwork.NewRealClock(),
		runnables: make(map[string]func(ctx context.Context)),
	}

	sinkOpts := []alert.Option{
		alert.WithMetrics(recorder),
		alert.WithAuditor(historyStore),
	}
	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Stream, cfg.Events.Subject)
		if err != nil {
			slog.Error("Event bus unavailable, continuing without it", logfields.Error(err))
		} else {
			h.publisher = publisher
			sinkOpts = append(sinkOpts, alert.WithPublisher(publisher))
		}
	}
	h.sink = alert.NewSink(h.gateway, sinkOpts...)

	// Bots register scheduled jobs as they are built, so the scheduler
	// must exist first.
	h.scheduler, err = newScheduler()
	if err != nil {
		return nil, err
	}

	routes, err := h.buildBots()
	if err != nil {
		return nil, err
	}
	h.router = router.New(routes, h.sink, router.WithMetrics(recorder))
	h.http = newHTTPServer(cfg.HTTP.Listen, registry, historyStore)

	slog.Info("Hub assembled", logfields.Count(h.router.Routes()))
	return h, nil
}

// buildBots constructs every configured bot, collects their routes and
// registers their background loops and scheduled jobs.
func (h *Hub) buildBots() ([]router.Route, error) {
	var routes []router.Route
	cfg := h.cfg

	addRoute := func(rc config.RouteConfig, handler router.Handler) {
		routes = append(routes, router.Route{
			Key:       router.RoutingKey(rc.InternalID),
			Recipient: router.Recipient(rc.Recipient),
			Handler:   handler,
		})
	}

	if bc := cfg.Bots.Budget; bc != nil {
		if err := bc.Validate(); err != nil {
			slog.Error("Skipping budget bot", logfields.Error(err))
		} else {
			bot, err := budget.New(h.statePath("budget.json"), bc.WeeklyAmount,
				h.sink.ForBot("budget", router.Recipient(bc.Route.Recipient)))
			if err != nil {
				return nil, err
			}
			addRoute(bc.Route, bot)
			h.runnables["budget-allowance"] = bot.Run
		}
	}

	if bc := cfg.Bots.Bins; bc != nil {
		if err := bc.Validate(); err != nil {
			slog.Error("Skipping bins bot", logfields.Error(err))
		} else {
			fetcher := bins.NewCouncilFetcher(bc.CouncilURL, h.clock)
			bot, err := bins.New(h.statePath("bins.json"), fetcher, h.sink.ForBot("bins", router.Recipient(bc.Route.Recipient)))
			if err != nil {
				return nil, err
			}
			addRoute(bc.Route, bot)
			h.runnables["bins-reminders"] = bot.Run
		}
	}

	if tc := cfg.Bots.Trains; tc != nil {
		if err := tc.Validate(); err != nil {
			slog.Error("Skipping trains bot", logfields.Error(err))
		} else {
			board := trains.NewLDBClient("", tc.Token)
			bot := trains.New(board, tc.DefaultCRS,
				h.sink.ForBot("trains", router.Recipient(tc.Route.Recipient)),
				trains.WithMetrics(h.recorder))
			addRoute(tc.Route, bot)
			h.scheduler.every("trains-tick", tc.PollInterval.Std(), func(ctx context.Context) {
				if err := bot.Tick(ctx); err != nil {
					slog.Warn("Train watch tick failed", logfields.Bot("trains"), logfields.Error(err))
				}
			})
		}
	}

	if cc := cfg.Bots.Camera; cc != nil {
		if err := cc.Validate(); err != nil {
			slog.Error("Skipping camera bot", logfields.Error(err))
		} else {
			source := camera.NewNVRSource(cc.NVRURL, cc.APIKey)
			bot, err := camera.New(h.statePath("camera.json"), source,
				h.sink.ForBot("camera", router.Recipient(cc.Route.Recipient)),
				camera.Options{
					ClipDir:       cc.ClipDir,
					Monitored:     cc.Monitored,
					Lookback:      cc.Lookback.Std(),
					Interval:      cc.SyncInterval.Std(),
					RetentionDays: cc.RetentionDays,
					MaxBytes:      cc.MaxBytes,
				})
			if err != nil {
				return nil, err
			}
			addRoute(cc.Route, bot)
			h.runnables["camera-sync"] = bot.Run
		}
	}

	if rc := cfg.Bots.Reminder; rc != nil {
		if err := rc.Validate(); err != nil {
			slog.Error("Skipping reminder bot", logfields.Error(err))
		} else {
			bot, err := reminder.New(h.statePath("reminders.json"),
				h.sink.ForBot("reminder", router.Recipient(rc.Route.Recipient)))
			if err != nil {
				return nil, err
			}
			addRoute(rc.Route, bot)
			h.scheduler.every("reminder-due", time.Minute, func(ctx context.Context) {
				if err := bot.DueCheck(ctx); err != nil {
					slog.Warn("Reminder check failed", logfields.Bot("reminder"), logfields.Error(err))
				}
			})
		}
	}

	return routes, nil
}

func (h *Hub) statePath(name string) string {
	return filepath.Join(h.cfg.DataDir, name)
}

// Start brings up the scheduler, the bot loops, the gateway poll and the
// HTTP listener. It returns once everything is running.
func (h *Hub) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.scheduler.every("gateway-receive", h.cfg.Gateway.PollInterval.Std(), h.pollGateway)
	h.scheduler.every("history-prune", h.cfg.History.PruneInterval.Std(), h.pruneHistory)
	h.scheduler.start()

	for name, run := range h.runnables {
		run := run
		h.workers.Go(name, func() { run(runCtx) })
	}

	h.workers.Go("http", func() {
		if err := h.http.run(runCtx); err != nil {
			slog.Error("HTTP server failed", logfields.Error(err))
		}
	})

	slog.Info("Hub started", slog.String("listen", h.cfg.HTTP.Listen))
	return nil
}

// pollGateway drains the inbound queue and dispatches each command.
func (h *Hub) pollGateway(ctx context.Context) {
	inbound, err := h.gateway.Receive(ctx)
	if err != nil {
		slog.Warn("Gateway receive failed", logfields.Error(err))
		return
	}

	for _, msg := range inbound {
		if bot, ok := h.router.HandlerName(msg.Key); ok {
			err := h.history.Append(ctx, history.Entry{
				Kind:      history.KindCommand,
				Bot:       bot,
				Recipient: string(msg.Key),
				Body:      msg.Text,
			})
			if err != nil {
				slog.Warn("Failed to record command in history", logfields.Error(err))
			}
		}
		h.router.Dispatch(ctx, msg.Key, msg.Text)
	}
}

func (h *Hub) pruneHistory(ctx context.Context) {
	cutoff := h.clock.Now().Add(-h.cfg.History.Retention.Std())
	n, err := h.history.Prune(ctx, cutoff)
	if err != nil {
		slog.Warn("History prune failed", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Info("Pruned history entries", logfields.Count(int(n)))
	}
}

// Stop shuts the hub down: scheduler first so no new work starts, then the
// bot loops, then the stores.
func (h *Hub) Stop(ctx context.Context) error {
	slog.Info("Stopping hub")

	if err := h.scheduler.stop(); err != nil {
		slog.Warn("Scheduler shutdown failed", logfields.Error(err))
	}
	if h.cancel != nil {
		h.cancel()
	}
	if err := h.workers.StopAndWait(ctx); err != nil {
		slog.Warn("Workers did not stop in time", logfields.Error(err))
	}

	if h.publisher != nil {
		_ = h.publisher.Close()
	}
	if err := h.history.Close(); err != nil {
		slog.Warn("History close failed", logfields.Error(err))
	}

	slog.Info("Hub stopped")
	return nil
}
