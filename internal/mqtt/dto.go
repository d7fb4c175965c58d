package mqtt

import (
	"encoding/json"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
)

// EventMessage is the JSON payload published for a confirmed accident
// event. It carries identification and timing only; the frame and analysis
// products travel over the notification channels.
type EventMessage struct {
	EventID     string    `json:"event_id"`
	Node        string    `json:"node,omitempty"`
	CameraID    string    `json:"camera_id,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	PeakScore   float64   `json:"peak_score"`
}

// NewEventMessage maps a confirmed event to its wire representation.
func NewEventMessage(event *detection.Event, main *conf.MainSettings) *EventMessage {
	return &EventMessage{
		EventID:     event.ID,
		Node:        main.Name,
		CameraID:    main.CameraID,
		Location:    main.Location,
		StartedAt:   event.StartTime,
		ConfirmedAt: event.ConfirmTime,
		PeakScore:   event.PeakScore,
	}
}

// Marshal renders the message as JSON.
func (m *EventMessage) Marshal() (string, error) {
	out, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
