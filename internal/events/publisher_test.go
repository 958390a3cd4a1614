package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONShape(t *testing.T) {
	e := Event{
		ID:        "abc",
		Kind:      "alert",
		Bot:       "trains",
		Recipient: "+441234",
		Text:      "18:45 delayed",
		Timestamp: time.Date(2025, 5, 1, 18, 40, 0, 0, time.UTC),
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "alert", got["kind"])
	assert.Equal(t, "trains", got["bot"])
	assert.Equal(t, "+441234", got["recipient"])
	assert.Contains(t, got, "timestamp")
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Event{ID: "x", Kind: "lifecycle", Timestamp: time.Now()})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.NotContains(t, got, "bot")
	assert.NotContains(t, got, "recipient")
	assert.NotContains(t, got, "text")
}

func TestNewPublisherRejectsMissingConfig(t *testing.T) {
	_, err := NewPublisher("", "HOMEHUB", "homehub.events")
	assert.Error(t, err)

	_, err = NewPublisher("nats://localhost:4222", "HOMEHUB", "")
	assert.Error(t, err)
}
