package trains

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/homehub/internal/router"
)

type fakeBoard struct {
	mu       sync.Mutex
	services map[string][]Service
	err      error
}

func (f *fakeBoard) Departures(_ context.Context, crs string) ([]Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.services[crs], nil
}

func (f *fakeBoard) set(crs string, services []Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.services == nil {
		f.services = map[string][]Service{}
	}
	f.services[crs] = services
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

func handle(t *testing.T, b *Bot, text string) *router.Reply {
	t.Helper()
	reply, err := b.HandleCommand(context.Background(), text)
	require.NoError(t, err)
	return reply
}

func TestShowBoard(t *testing.T) {
	board := &fakeBoard{}
	board.set("KGX", []Service{
		{STD: "18:45", ETD: "On time", Platform: "4", Destination: "Leeds"},
		{STD: "18:52", ETD: "Delayed", Destination: "York"},
	})
	b := New(board, "kgx", &fakeNotifier{})

	reply, err := b.HandleCommand(context.Background(), "/trains")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "18:45 to Leeds: On time (plat 4)")
	assert.Contains(t, reply.Text, "18:52 to York: Delayed (plat -)")
}

func TestShowBoardExplicitStation(t *testing.T) {
	board := &fakeBoard{}
	board.set("YRK", []Service{{STD: "09:00", ETD: "On time", Destination: "London"}})
	b := New(board, "KGX", &fakeNotifier{})

	reply, err := b.HandleCommand(context.Background(), "/trains yrk")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "Departures from YRK")
}

func TestBoardFailureIsAnswerNotError(t *testing.T) {
	b := New(&fakeBoard{err: errors.New("soap fault")}, "KGX", &fakeNotifier{})
	reply, err := b.HandleCommand(context.Background(), "/trains")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "Couldn't reach")
}

func TestWatchAlertsOnChange(t *testing.T) {
	board := &fakeBoard{}
	board.set("KGX", []Service{{STD: "18:45", ETD: "On time", Platform: "4", Destination: "Leeds"}})
	notifier := &fakeNotifier{}
	b := New(board, "KGX", notifier)

	reply, err := b.HandleCommand(context.Background(), "/watch 18:45")
	require.NoError(t, err)
	require.NotNil(t, reply)

	// First tick: unknown fingerprint becomes known, which is news.
	require.NoError(t, b.Tick(context.Background()))
	require.Len(t, notifier.sent(), 1)
	assert.Equal(t, "18:45 to Leeds: On time, platform 4", notifier.sent()[0])

	// No change, no alert.
	require.NoError(t, b.Tick(context.Background()))
	assert.Len(t, notifier.sent(), 1)

	// Estimate slips: exactly one more alert.
	board.set("KGX", []Service{{STD: "18:45", ETD: "18:52", Platform: "4", Destination: "Leeds"}})
	require.NoError(t, b.Tick(context.Background()))
	require.Len(t, notifier.sent(), 2)
	assert.Equal(t, "18:45 to Leeds: 18:52, platform 4", notifier.sent()[1])
}

func TestDepartedRemovesWatch(t *testing.T) {
	board := &fakeBoard{}
	board.set("KGX", []Service{{STD: "18:45", ETD: "On time", Platform: "4", Destination: "Leeds"}})
	notifier := &fakeNotifier{}
	b := New(board, "KGX", notifier)

	handle(t, b, "/watch 18:45")
	require.NoError(t, b.Tick(context.Background()))

	board.set("KGX", []Service{{STD: "18:45", ETD: "Departed", Platform: "4", Destination: "Leeds"}})
	require.NoError(t, b.Tick(context.Background()))

	sent := notifier.sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2], "has departed")

	reply := handle(t, b, "/watching")
	assert.Equal(t, "Nothing is being watched.", reply.Text)
}

func TestUnwatch(t *testing.T) {
	board := &fakeBoard{}
	b := New(board, "KGX", &fakeNotifier{})

	handle(t, b, "/watch 18:45")
	handle(t, b, "/watch 19:03")

	reply := handle(t, b, "/unwatch 18:45")
	assert.Contains(t, reply.Text, "Stopped watching the 18:45")

	reply = handle(t, b, "/unwatch")
	assert.Contains(t, reply.Text, "Stopped watching 1 departures")

	reply = handle(t, b, "/unwatch")
	assert.Equal(t, "Nothing was being watched.", reply.Text)
}

func TestWatchRejectsBadTime(t *testing.T) {
	b := New(&fakeBoard{}, "KGX", &fakeNotifier{})
	reply := handle(t, b, "/watch sixish")
	assert.Contains(t, reply.Text, "/watch 18:45")
}

func TestUnrecognizedCommandIsSilent(t *testing.T) {
	b := New(&fakeBoard{}, "KGX", &fakeNotifier{})
	assert.Nil(t, handle(t, b, "/balance"))
}
