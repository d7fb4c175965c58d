// Package detection converts the noisy per-frame accident score into a
// stable, rate-limited stream of confirmed accident events.
package detection

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadsentry/roadsentry-go/internal/frame"
)

// Status is the lifecycle state of an accident event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusEnriching Status = "enriching"
	StatusDelivered Status = "delivered"
	StatusClosed    Status = "closed"
)

// Result is one enrichment product outcome attached to an event. Either
// Payload or Err is set.
type Result struct {
	Kind    string
	Payload string
	Err     error
	Latency time.Duration
}

// Failed reports whether the product ended in failure.
func (r *Result) Failed() bool { return r.Err != nil }

// Delivery records the outcome of one notification task for this event.
type Delivery struct {
	TaskID    string
	Channel   string
	Delivered bool
	At        time.Time
}

// Event is a confirmed accident. It is created by the detector when the
// confirmation condition is met and owned by the pipeline afterwards; the
// enrichment orchestrator attaches results and the dispatcher records
// delivery outcomes through the mutex-guarded methods below.
type Event struct {
	ID          string
	StartTime   time.Time
	ConfirmTime time.Time
	PeakScore   float64
	Frame       *frame.Frame // representative frame, the one with the peak score

	mu         sync.Mutex
	status     Status
	results    map[string]*Result
	deliveries []Delivery
}

func newEvent(start, confirm time.Time, peak float64, f *frame.Frame) *Event {
	return &Event{
		ID:          uuid.New().String(),
		StartTime:   start,
		ConfirmTime: confirm,
		PeakScore:   peak,
		Frame:       f,
		status:      StatusPending,
		results:     make(map[string]*Result),
	}
}

// Status returns the current lifecycle state.
func (e *Event) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus advances the lifecycle state. Closed is terminal; transitions
// out of it are ignored so late enrichment completions cannot reopen an
// event.
func (e *Event) SetStatus(s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusClosed {
		return
	}
	e.status = s
}

// AttachResult records an enrichment product outcome.
func (e *Event) AttachResult(r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[r.Kind] = r
}

// ResultFor returns the recorded outcome for a product kind, or nil.
func (e *Event) ResultFor(kind string) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[kind]
}

// Results returns a snapshot of all recorded product outcomes.
func (e *Event) Results() map[string]*Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*Result, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// RecordDelivery appends a notification delivery outcome.
func (e *Event) RecordDelivery(d Delivery) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliveries = append(e.deliveries, d)
}

// Deliveries returns a snapshot of recorded delivery outcomes.
func (e *Event) Deliveries() []Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Delivery, len(e.deliveries))
	copy(out, e.deliveries)
	return out
}

// Closed reports whether the event has reached its terminal state.
func (e *Event) Closed() bool {
	return e.Status() == StatusClosed
}

// Close moves the event to its terminal state.
func (e *Event) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusClosed
}
