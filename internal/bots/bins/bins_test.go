package bins

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu          sync.Mutex
	collections []Collection
	err         error
	calls       int
}

func (f *fakeFetcher) Collections(_ context.Context) ([]Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.collections, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *fakeNotifier) Alert(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}

func newTestBot(t *testing.T, fetcher Fetcher, notifier Notifier, now time.Time) (*Bot, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(now)
	b, err := New(filepath.Join(t.TempDir(), "bins.json"), fetcher, notifier, WithClock(fc))
	require.NoError(t, err)
	return b, fc
}

func TestReminderSequence(t *testing.T) {
	collection := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{collections: []Collection{
		{Type: "Recycling", Date: collection},
		{Type: "Food waste", Date: collection},
	}}
	notifier := &fakeNotifier{}

	// Start the afternoon before collection day.
	b, fc := newTestBot(t, fetcher, notifier, collection.Add(-10*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	// Night-before reminder at 18:00.
	fc.BlockUntil(1)
	fc.Advance(4 * time.Hour)
	fc.BlockUntil(1)
	require.Len(t, notifier.sent(), 1)
	assert.Equal(t, "Bins out tonight: Food waste, Recycling", notifier.sent()[0])

	// Morning-of reminder at 07:00.
	fc.Advance(13 * time.Hour)
	fc.BlockUntil(1)
	require.Len(t, notifier.sent(), 2)
	assert.Equal(t, "Bin day today: Food waste, Recycling", notifier.sent()[1])

	// Refresh at 09:00 the next day refetches the schedule.
	before := fetcher.callCount()
	fc.Advance(26 * time.Hour)
	fc.BlockUntil(1)
	assert.Greater(t, fetcher.callCount(), before)

	cancel()
	<-done
}

func TestNextAnchorSkipsSpentDays(t *testing.T) {
	now := time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)
	collections := []Collection{
		{Type: "Recycling", Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		{Type: "Garden waste", Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
	}

	// June 3rd's refresh point (June 4th 09:00) has passed, so the next
	// anchor is June 10th.
	anchor, ok := nextAnchor(collections, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), anchor)

	_, ok = nextAnchor(nil, now)
	assert.False(t, ok)
}

func TestHandleBinsListsUpcoming(t *testing.T) {
	now := time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{collections: []Collection{
		{Type: "Recycling", Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
	}}
	b, _ := newTestBot(t, fetcher, &fakeNotifier{}, now)

	reply, err := b.HandleCommand(context.Background(), "/bins")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "Recycling")
	assert.Contains(t, reply.Text, "Tuesday 3 June")
}

func TestHandleBinsFetchFailure(t *testing.T) {
	now := time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)
	b, _ := newTestBot(t, &fakeFetcher{err: errors.New("timeout")}, &fakeNotifier{}, now)

	reply, err := b.HandleCommand(context.Background(), "/bins")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "council site is slow")
}

func TestHandleIgnoresOtherCommands(t *testing.T) {
	b, _ := newTestBot(t, &fakeFetcher{}, &fakeNotifier{}, time.Now())
	reply, err := b.HandleCommand(context.Background(), "/balance")
	require.NoError(t, err)
	assert.Nil(t, reply)
}
