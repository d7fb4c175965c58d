// Package notification delivers event messages to the configured messaging
// channels. Each channel has its own ordered queue so a retrying message
// never lets a later one overtake it.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is a logical message destination. The alerts channel carries
// urgent, short messages; the reports channel carries analytical output.
type Channel string

const (
	ChannelAlerts  Channel = "alerts"
	ChannelReports Channel = "reports"
)

// Kind classifies a task for logging and metrics.
type Kind string

const (
	KindAlert    Kind = "alert"
	KindProgress Kind = "progress"
	KindReport   Kind = "report"
	KindFailure  Kind = "failure"
)

// Task is one message queued for delivery.
type Task struct {
	ID        string
	EventID   string
	Channel   Channel
	Kind      Kind
	Title     string
	Message   string
	Photo     []byte // optional JPEG attachment
	CreatedAt time.Time
}

// NewTask builds a task with a fresh ID.
func NewTask(eventID string, channel Channel, kind Kind, title, message string) *Task {
	return &Task{
		ID:        uuid.New().String(),
		EventID:   eventID,
		Channel:   channel,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Transport sends a task to an external messaging service. Implementations
// report permanent failures with jobqueue.Permanent so the dispatcher does
// not retry them.
type Transport interface {
	Name() string
	Send(ctx context.Context, task *Task) error
}
