package detection

import (
	"log/slog"
	"math"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/frame"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// State is the detector's confirmation state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateCooldown
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAccumulating:
		return "Accumulating"
	case StateCooldown:
		return "Cooldown"
	default:
		return "Unknown"
	}
}

// Sample is one classifier score with its source frame.
type Sample struct {
	Timestamp time.Time
	Score     float64
	Frame     *frame.Frame
}

// Detector is the temporal confirmation state machine. It consumes ordered
// score samples and emits at most one open event at a time: a sample
// arming the window, a sliding window of the last WindowSize samples
// confirming when enough of them exceed the high threshold, and a cooldown
// suppressing duplicates for the same physical incident.
//
// Not safe for concurrent use; it is owned by the single frame loop.
type Detector struct {
	cfg    conf.DetectionSettings
	logger *slog.Logger

	state       State
	window      []Sample
	windowStart time.Time
	cooldownEnd time.Time
	open        *Event
}

// New creates a detector with the given tunables.
func New(cfg conf.DetectionSettings) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logging.ForService("detection"),
	}
}

// State returns the current confirmation state.
func (d *Detector) State() State { return d.state }

// OpenEvent returns the currently open (non-closed) event, or nil. The slot
// is owned by the detector; other components receive the event handle at
// confirmation and must not assume it stays open.
func (d *Detector) OpenEvent() *Event { return d.open }

// Observe feeds one score sample through the state machine. It returns a
// newly confirmed event, or nil. Samples with out-of-range scores are
// rejected; a skipped sample (classifier error) simply never reaches here
// and does not advance the window.
func (d *Detector) Observe(s Sample) (*Event, error) {
	if s.Score < 0 || s.Score > 1 || math.IsNaN(s.Score) {
		return nil, errors.Newf("score %v out of range [0,1]", s.Score).
			Component("detection").
			Category(errors.CategoryDetection).
			Build()
	}

	switch d.state {
	case StateIdle:
		d.observeIdle(s)
		return nil, nil

	case StateAccumulating:
		return d.observeAccumulating(s), nil

	case StateCooldown:
		d.observeCooldown(s)
		return nil, nil

	default:
		return nil, errors.Newf("invalid detector state %d", d.state).
			Component("detection").
			Category(errors.CategoryDetection).
			Build()
	}
}

func (d *Detector) observeIdle(s Sample) {
	if s.Score < d.cfg.LowThreshold {
		return
	}
	d.state = StateAccumulating
	d.windowStart = s.Timestamp
	d.window = append(d.window[:0], s)
	d.logger.Debug("accumulation window armed", "score", s.Score, "frame_seq", frameSeq(s))
}

func (d *Detector) observeAccumulating(s Sample) *Event {
	if s.Timestamp.Sub(d.windowStart) > d.cfg.WindowTimeout {
		d.logger.Debug("accumulation window expired without confirmation")
		d.reset()
		// the expiring sample is still evidence, evaluate it fresh
		d.observeIdle(s)
		return nil
	}

	d.window = append(d.window, s)
	if len(d.window) > d.cfg.WindowSize {
		d.window = d.window[len(d.window)-d.cfg.WindowSize:]
	}

	if !d.confirmed() {
		return nil
	}

	peak := d.window[0]
	for _, ws := range d.window[1:] {
		if ws.Score > peak.Score {
			peak = ws
		}
	}

	event := newEvent(d.windowStart, s.Timestamp, peak.Score, peak.Frame)
	event.SetStatus(StatusConfirmed)
	d.open = event
	d.state = StateCooldown
	d.cooldownEnd = s.Timestamp.Add(d.cfg.Cooldown)
	d.window = d.window[:0]

	d.logger.Info("accident confirmed",
		"event_id", event.ID,
		"peak_score", event.PeakScore,
		"frame_seq", frameSeq(Sample{Frame: event.Frame}))
	return event
}

// confirmed checks the debounce condition: at least MinConfirmFraction of a
// full window's worth of samples above the high threshold. The denominator
// is WindowSize, not the current window length, so a single early spike
// cannot confirm before the window has collected sustained evidence.
func (d *Detector) confirmed() bool {
	high := 0
	for _, ws := range d.window {
		if ws.Score >= d.cfg.HighThreshold {
			high++
		}
	}
	return float64(high)/float64(d.cfg.WindowSize) >= d.cfg.MinConfirmFraction
}

func (d *Detector) observeCooldown(s Sample) {
	if s.Score >= d.cfg.HighThreshold {
		// incident still hot, re-arm the cooldown but do not re-emit
		d.cooldownEnd = s.Timestamp.Add(d.cfg.Cooldown)
		return
	}

	if !s.Timestamp.Before(d.cooldownEnd) {
		if d.open != nil {
			d.logger.Info("cooldown expired, closing event", "event_id", d.open.ID)
			d.open.Close()
			d.open = nil
		}
		d.reset()
		d.observeIdle(s)
	}
}

func (d *Detector) reset() {
	d.state = StateIdle
	d.window = d.window[:0]
	d.windowStart = time.Time{}
}

func frameSeq(s Sample) int64 {
	if s.Frame == nil {
		return 0
	}
	return s.Frame.Seq
}
