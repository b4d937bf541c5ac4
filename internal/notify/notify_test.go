package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDefaultsToNoopPublisher(t *testing.T) {
	pub, err := Open(nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(RunCompletedEvent{Mapping: "customers"}))
	require.NoError(t, pub.Close())
}

func TestRunCompletedEventRoundTripsThroughJSON(t *testing.T) {
	event := RunCompletedEvent{
		Mapping:     "customers",
		FinishedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RowsWritten: 3,
		Success:     true,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	var decoded RunCompletedEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event, decoded)
}
