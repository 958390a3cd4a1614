package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// scheduler wraps gocron for the hub's fixed-interval jobs: the gateway
// poll, the train watch tick, the reminder check and history pruning.
type scheduler struct {
	inner gocron.Scheduler
}

func newScheduler() (*scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &scheduler{inner: s}, nil
}

// every registers a named fixed-interval job. Jobs receive the scheduler's
// own context and must not block beyond their interval; gocron skips an
// overlapping run rather than stacking them.
func (s *scheduler) every(name string, interval time.Duration, task func(ctx context.Context)) {
	_, err := s.inner.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		slog.Error("Failed to schedule job", logfields.Loop(name), logfields.Error(err))
		return
	}
	slog.Debug("Scheduled job", logfields.Loop(name), slog.Duration("interval", interval))
}

func (s *scheduler) start() {
	s.inner.Start()
}

func (s *scheduler) stop() error {
	return s.inner.Shutdown()
}
