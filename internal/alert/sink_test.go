package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/homehub/internal/events"
	"git.home.luguber.info/inful/homehub/internal/history"
	"git.home.luguber.info/inful/homehub/internal/router"
)

type fakeTransport struct {
	texts []string
	paths []string
	err   error
}

func (f *fakeTransport) Send(_ context.Context, _ router.Recipient, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeTransport) SendFile(_ context.Context, _ router.Recipient, text, path string) error {
	f.texts = append(f.texts, text)
	f.paths = append(f.paths, path)
	return f.err
}

type fakeAuditor struct {
	entries []history.Entry
	err     error
}

func (f *fakeAuditor) Append(_ context.Context, e history.Entry) error {
	f.entries = append(f.entries, e)
	return f.err
}

type fakePublisher struct {
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(e events.Event) error {
	f.events = append(f.events, e)
	return f.err
}

func TestSendFansOutToAuditAndEvents(t *testing.T) {
	tr := &fakeTransport{}
	aud := &fakeAuditor{}
	pub := &fakePublisher{}
	sink := NewSink(tr, WithAuditor(aud), WithPublisher(pub))

	require.NoError(t, sink.Send(context.Background(), "+441", "hello"))

	assert.Equal(t, []string{"hello"}, tr.texts)
	require.Len(t, aud.entries, 1)
	assert.Equal(t, history.KindAlert, aud.entries[0].Kind)
	assert.Equal(t, "+441", aud.entries[0].Recipient)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "alert", pub.events[0].Kind)
}

func TestSendFailureSkipsFanOut(t *testing.T) {
	tr := &fakeTransport{err: errors.New("gateway down")}
	aud := &fakeAuditor{}
	sink := NewSink(tr, WithAuditor(aud))

	err := sink.Send(context.Background(), "+441", "hello")
	assert.Error(t, err)
	assert.Empty(t, aud.entries, "undelivered messages are not audited")
}

func TestFanOutFailuresAreSwallowed(t *testing.T) {
	tr := &fakeTransport{}
	aud := &fakeAuditor{err: errors.New("db locked")}
	pub := &fakePublisher{err: errors.New("nats gone")}
	sink := NewSink(tr, WithAuditor(aud), WithPublisher(pub))

	assert.NoError(t, sink.Send(context.Background(), "+441", "hello"),
		"delivery succeeded, side effect failures must not surface")
}

func TestAlerterSwallowsTransportErrors(t *testing.T) {
	tr := &fakeTransport{err: errors.New("gateway down")}
	sink := NewSink(tr)
	a := sink.ForBot("bins", "+442")

	// Must not panic or propagate.
	a.Alert(context.Background(), "bins out tonight")
	assert.Equal(t, []string{"bins out tonight"}, tr.texts)
}

func TestAlertFileCarriesAttachment(t *testing.T) {
	tr := &fakeTransport{}
	aud := &fakeAuditor{}
	sink := NewSink(tr, WithAuditor(aud))
	a := sink.ForBot("camera", "+443")

	a.AlertFile(context.Background(), "backyard motion", "/clips/backyard.mp4")

	require.Len(t, tr.paths, 1)
	assert.Equal(t, "/clips/backyard.mp4", tr.paths[0])
	require.Len(t, aud.entries, 1)
	assert.Equal(t, "camera", aud.entries[0].Bot)
}
