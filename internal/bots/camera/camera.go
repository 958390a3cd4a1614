// Package camera implements the clip sync bot. It mirrors motion clips
// from the camera NVR onto local disk, optionally pushes clips from
// monitored cameras into the conversation, and keeps the local archive
// inside its retention and size limits.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/homehub/internal/logfields"
	"git.home.luguber.info/inful/homehub/internal/loop"
	"git.home.luguber.info/inful/homehub/internal/router"
	"git.home.luguber.info/inful/homehub/internal/state"
)

// Device is one camera known to the clip source.
type Device struct {
	ID   string
	Name string
}

// Clip is one recorded motion event.
type Clip struct {
	DeviceID string
	Start    time.Time
}

// ClipSource is the NVR the bot mirrors from.
type ClipSource interface {
	Devices(ctx context.Context) ([]Device, error)
	Clips(ctx context.Context, deviceID string, start, end time.Time) ([]Clip, error)
	Download(ctx context.Context, clip Clip, path string) error
}

// Notifier delivers clip alerts. Implemented by alert.Alerter.
type Notifier interface {
	Alert(ctx context.Context, text string)
	AlertFile(ctx context.Context, text, path string)
}

// State tracks the newest synced clip per device, so restarts resume where
// the last run stopped instead of re-downloading the lookback window.
type State struct {
	LastSynced map[string]time.Time `json:"last_synced,omitempty"`
	Messaging  bool                 `json:"messaging"`
}

// Options bound the sync and cleanup behavior.
type Options struct {
	ClipDir       string
	Monitored     []string // camera names whose clips are pushed to the conversation
	Lookback      time.Duration
	Interval      time.Duration
	RetentionDays int
	MaxBytes      int64
	Clock         clockwork.Clock
}

// Bot is the camera command handler and sync loop.
type Bot struct {
	source    ClipSource
	notifier  Notifier
	store     *state.Store[State]
	clipDir   string
	monitored map[string]bool
	lookback  time.Duration
	retention time.Duration
	maxBytes  int64
	clock     clockwork.Clock
	sup       *loop.Supervisor

	mu       sync.Mutex
	interval time.Duration
}

// New builds the camera bot over a clip source.
func New(statePath string, source ClipSource, notifier Notifier, opts Options) (*Bot, error) {
	store, err := state.NewStore(statePath, func() State {
		return State{LastSynced: map[string]time.Time{}, Messaging: true}
	})
	if err != nil {
		return nil, fmt.Errorf("open camera state: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 3 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 30
	}

	monitored := make(map[string]bool, len(opts.Monitored))
	for _, name := range opts.Monitored {
		monitored[name] = true
	}

	b := &Bot{
		source:    source,
		notifier:  notifier,
		store:     store,
		clipDir:   opts.ClipDir,
		monitored: monitored,
		lookback:  opts.Lookback,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		maxBytes:  opts.MaxBytes,
		clock:     opts.Clock,
		interval:  opts.Interval,
	}
	b.sup = loop.NewSupervisor("camera-sync", loop.WithClock(b.clock))

	if err := os.MkdirAll(b.clipDir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip directory: %w", err)
	}
	return b, nil
}

// Name implements router.Handler.
func (b *Bot) Name() string { return "camera" }

// HandleCommand implements router.Handler.
func (b *Bot) HandleCommand(ctx context.Context, text string) (*router.Reply, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "/sync":
		return b.syncCommand(ctx, fields[1:])
	case "/message":
		return b.messageCommand(fields[1:])
	case "/usage", "/help":
		return router.Text(usage), nil
	}
	return nil, nil
}

const usage = `Camera commands:
/sync - mirror new clips now
/sync N - also set the sync interval to N minutes
/message on|off - push clips from monitored cameras into this chat
/usage - this message`

func (b *Bot) syncCommand(ctx context.Context, args []string) (*router.Reply, error) {
	if len(args) > 0 {
		minutes, err := strconv.Atoi(args[0])
		if err != nil || minutes < 1 {
			return router.Text("Interval must be a whole number of minutes, like /sync 10"), nil
		}
		b.mu.Lock()
		b.interval = time.Duration(minutes) * time.Minute
		b.mu.Unlock()
	}

	synced, err := b.syncOnce(ctx)
	if err != nil {
		return router.Text("Sync failed, the camera box didn't answer."), nil
	}
	return router.Text(fmt.Sprintf("Synced %d new clips. Interval is %s.", synced, b.currentInterval())), nil
}

func (b *Bot) messageCommand(args []string) (*router.Reply, error) {
	if len(args) == 0 {
		return router.Text("Say /message on or /message off"), nil
	}

	var enable bool
	switch args[0] {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return router.Text("Say /message on or /message off"), nil
	}

	err := b.store.Update(func(s *State) error {
		s.Messaging = enable
		return nil
	})
	if err != nil {
		return nil, err
	}
	if enable {
		return router.Text("Clip messages are on."), nil
	}
	return router.Text("Clip messages are off. Clips still sync to disk."), nil
}

func (b *Bot) currentInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// Run drives periodic sync and cleanup until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.sup.Run(ctx, func(ctx context.Context) (time.Duration, error) {
		if _, err := b.syncOnce(ctx); err != nil {
			return 0, err
		}
		if err := b.cleanup(); err != nil {
			slog.Warn("Clip cleanup failed", logfields.Bot("camera"), logfields.Error(err))
		}
		return b.currentInterval(), nil
	})
}

// syncOnce mirrors every clip newer than the device's high-water mark,
// bounded below by the lookback window.
func (b *Bot) syncOnce(ctx context.Context) (int, error) {
	devices, err := b.source.Devices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list camera devices: %w", err)
	}

	now := b.clock.Now()
	floor := now.Add(-b.lookback)
	synced := 0

	for _, dev := range devices {
		var since time.Time
		b.store.View(func(s State) { since = s.LastSynced[dev.ID] })
		if since.Before(floor) {
			since = floor
		}

		clips, err := b.source.Clips(ctx, dev.ID, since, now)
		if err != nil {
			slog.Warn("Failed to list clips",
				logfields.Bot("camera"), logfields.Device(dev.Name), logfields.Error(err))
			continue
		}

		newest := since
		for _, clip := range clips {
			if !clip.Start.After(since) {
				continue
			}
			path := filepath.Join(b.clipDir, clipFilename(dev.Name, clip.Start))
			if err := b.source.Download(ctx, clip, path); err != nil {
				slog.Warn("Failed to download clip",
					logfields.Bot("camera"), logfields.Device(dev.Name), logfields.Error(err))
				continue
			}
			synced++
			if clip.Start.After(newest) {
				newest = clip.Start
			}
			b.maybeNotify(ctx, dev, path)
		}

		if newest.After(since) {
			final := newest
			err := b.store.Update(func(s *State) error {
				if s.LastSynced == nil {
					s.LastSynced = map[string]time.Time{}
				}
				s.LastSynced[dev.ID] = final
				return nil
			})
			if err != nil {
				return synced, err
			}
		}
	}

	if synced > 0 {
		slog.Info("Camera clips synced", logfields.Bot("camera"), logfields.Count(synced))
	}
	return synced, nil
}

func (b *Bot) maybeNotify(ctx context.Context, dev Device, path string) {
	if !b.monitored[dev.Name] {
		return
	}
	var messaging bool
	b.store.View(func(s State) { messaging = s.Messaging })
	if !messaging {
		return
	}
	b.notifier.AlertFile(ctx, fmt.Sprintf("Motion at %s", dev.Name), path)
}

var unsafeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func clipFilename(device string, start time.Time) string {
	safe := unsafeFilenameRe.ReplaceAllString(device, "_")
	return fmt.Sprintf("%s_%s.mp4", safe, start.UTC().Format("20060102-150405"))
}

// cleanup enforces retention age first, then total size, deleting oldest
// clips until the archive fits.
func (b *Bot) cleanup() error {
	entries, err := os.ReadDir(b.clipDir)
	if err != nil {
		return err
	}

	type clipFile struct {
		path    string
		modTime time.Time
		size    int64
	}

	var files []clipFile
	var total int64
	cutoff := b.clock.Now().Add(-b.retention)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(b.clipDir, entry.Name())
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				slog.Info("Removed expired clip", logfields.Bot("camera"), logfields.Path(path))
			}
			continue
		}
		files = append(files, clipFile{path: path, modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		if total <= b.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
		slog.Info("Removed clip to stay under size cap", logfields.Bot("camera"), logfields.Path(f.path))
	}
	return nil
}
