package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	devices []Device
	clips   map[string][]Clip
	devErr  error
}

func (f *fakeSource) Devices(_ context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devErr != nil {
		return nil, f.devErr
	}
	return f.devices, nil
}

func (f *fakeSource) Clips(_ context.Context, deviceID string, start, end time.Time) ([]Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Clip
	for _, c := range f.clips[deviceID] {
		if c.Start.After(start) && !c.Start.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) Download(_ context.Context, _ Clip, path string) error {
	return os.WriteFile(path, []byte("clipdata"), 0o644)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	paths []string
}

func (n *fakeNotifier) Alert(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) AlertFile(_ context.Context, text, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	n.paths = append(n.paths, path)
}

func (n *fakeNotifier) sentPaths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func newTestBot(t *testing.T, source ClipSource, notifier Notifier, now time.Time, monitored ...string) (*Bot, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := New(filepath.Join(dir, "camera.json"), source, notifier, Options{
		ClipDir:   filepath.Join(dir, "clips"),
		Monitored: monitored,
		Clock:     clockwork.NewFakeClockAt(now),
	})
	require.NoError(t, err)
	return b, filepath.Join(dir, "clips")
}

func TestSyncDownloadsNewClips(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		devices: []Device{{ID: "d1", Name: "Front Door"}},
		clips: map[string][]Clip{
			"d1": {
				{DeviceID: "d1", Start: now.Add(-30 * time.Minute)},
				{DeviceID: "d1", Start: now.Add(-10 * time.Minute)},
				// Outside the lookback window, must be ignored.
				{DeviceID: "d1", Start: now.Add(-5 * time.Hour)},
			},
		},
	}
	b, clipDir := newTestBot(t, src, &fakeNotifier{}, now)

	synced, err := b.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	entries, err := os.ReadDir(clipDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries[0].Name(), "Front_Door_")
}

func TestSyncIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		devices: []Device{{ID: "d1", Name: "Front Door"}},
		clips: map[string][]Clip{
			"d1": {{DeviceID: "d1", Start: now.Add(-10 * time.Minute)}},
		},
	}
	b, _ := newTestBot(t, src, &fakeNotifier{}, now)

	synced, err := b.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	synced, err = b.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced, "high-water mark prevents re-downloads")
}

func TestMonitoredCameraPushesClip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		devices: []Device{
			{ID: "d1", Name: "Front Door"},
			{ID: "d2", Name: "Garage"},
		},
		clips: map[string][]Clip{
			"d1": {{DeviceID: "d1", Start: now.Add(-10 * time.Minute)}},
			"d2": {{DeviceID: "d2", Start: now.Add(-10 * time.Minute)}},
		},
	}
	notifier := &fakeNotifier{}
	b, _ := newTestBot(t, src, notifier, now, "Front Door")

	_, err := b.syncOnce(context.Background())
	require.NoError(t, err)

	paths := notifier.sentPaths()
	require.Len(t, paths, 1, "only monitored cameras push clips")
	assert.Contains(t, paths[0], "Front_Door_")
}

func TestMessageOffStopsPushes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		devices: []Device{{ID: "d1", Name: "Front Door"}},
		clips: map[string][]Clip{
			"d1": {{DeviceID: "d1", Start: now.Add(-10 * time.Minute)}},
		},
	}
	notifier := &fakeNotifier{}
	b, _ := newTestBot(t, src, notifier, now, "Front Door")

	reply, err := b.HandleCommand(context.Background(), "/message off")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "off")

	_, err = b.syncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.sentPaths(), "clips sync but are not pushed")
}

func TestSyncCommandSetsInterval(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{devices: []Device{}}
	b, _ := newTestBot(t, src, &fakeNotifier{}, now)

	reply, err := b.HandleCommand(context.Background(), "/sync 10")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "10m0s")
	assert.Equal(t, 10*time.Minute, b.currentInterval())

	reply, err = b.HandleCommand(context.Background(), "/sync zero")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "whole number")
}

func TestSyncCommandSourceFailure(t *testing.T) {
	b, _ := newTestBot(t, &fakeSource{devErr: errors.New("nvr offline")}, &fakeNotifier{}, time.Now())
	reply, err := b.HandleCommand(context.Background(), "/sync")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "didn't answer")
}

func TestCleanupEnforcesSizeCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	clipDir := filepath.Join(dir, "clips")
	b, err := New(filepath.Join(dir, "camera.json"), &fakeSource{}, &fakeNotifier{}, Options{
		ClipDir:  clipDir,
		MaxBytes: 20,
		Clock:    clockwork.NewFakeClockAt(now),
	})
	require.NoError(t, err)

	old := filepath.Join(clipDir, "a.mp4")
	newer := filepath.Join(clipDir, "b.mp4")
	require.NoError(t, os.WriteFile(old, make([]byte, 15), 0o644))
	require.NoError(t, os.WriteFile(newer, make([]byte, 15), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	require.NoError(t, b.cleanup())

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err), "oldest clip removed first")
	_, err = os.Stat(newer)
	assert.NoError(t, err)
}

func TestCleanupEnforcesRetentionAge(t *testing.T) {
	dir := t.TempDir()
	clipDir := filepath.Join(dir, "clips")
	b, err := New(filepath.Join(dir, "camera.json"), &fakeSource{}, &fakeNotifier{}, Options{
		ClipDir:       clipDir,
		RetentionDays: 30,
	})
	require.NoError(t, err)

	expired := filepath.Join(clipDir, "old.mp4")
	require.NoError(t, os.WriteFile(expired, []byte("x"), 0o644))
	past := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(expired, past, past))

	fresh := filepath.Join(clipDir, "fresh.mp4")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	require.NoError(t, b.cleanup())

	_, err = os.Stat(expired)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
