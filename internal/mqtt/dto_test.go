package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
)

func TestNewEventMessage(t *testing.T) {
	d := detection.New(conf.DetectionSettings{
		LowThreshold:       0.5,
		HighThreshold:      0.9,
		WindowSize:         1,
		MinConfirmFraction: 0.5,
		WindowTimeout:      time.Minute,
		Cooldown:           time.Minute,
	})
	confirmedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	event, err := d.Observe(detection.Sample{Timestamp: confirmedAt, Score: 0.97})
	require.NoError(t, err)
	require.NotNil(t, event)

	main := &conf.MainSettings{Name: "roadsentry-1", Location: "Main St & 5th Ave", CameraID: "cam-7"}
	msg := NewEventMessage(event, main)

	payload, err := msg.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, event.ID, decoded["event_id"])
	assert.Equal(t, "roadsentry-1", decoded["node"])
	assert.Equal(t, "cam-7", decoded["camera_id"])
	assert.Equal(t, "Main St & 5th Ave", decoded["location"])
	assert.InDelta(t, 0.97, decoded["peak_score"], 1e-9)

	confirmed, err := time.Parse(time.RFC3339, decoded["confirmed_at"].(string))
	require.NoError(t, err)
	assert.True(t, confirmed.Equal(confirmedAt))
}

func TestEventMessageOmitsEmptyMetadata(t *testing.T) {
	msg := &EventMessage{EventID: "evt-1", PeakScore: 0.9}
	payload, err := msg.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, payload, "camera_id")
	assert.NotContains(t, payload, "location")
	assert.NotContains(t, payload, "node")
}
