package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/jobqueue"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

const (
	dedupeTTL     = 10 * time.Minute
	dedupeCleanup = 5 * time.Minute
)

// Dispatcher owns one ordered delivery queue per channel. Delivery through
// the primary transport is retried with backoff; a job blocks its channel
// until it succeeds or fails permanently, so messages never overtake each
// other. The optional secondary transport is best effort: it fires after a
// successful primary delivery and its failures are only logged.
type Dispatcher struct {
	primary   Transport
	secondary Transport
	queues    map[Channel]*jobqueue.Queue
	seen      *cache.Cache
	logger    *slog.Logger

	// OnDelivery fires once per task with the final outcome. It runs on a
	// queue worker goroutine.
	OnDelivery func(task *Task, delivered bool)
}

// NewDispatcher wires the per-channel queues around the transports. The
// secondary transport may be nil.
func NewDispatcher(settings *conf.NotifySettings, primary, secondary Transport) *Dispatcher {
	d := &Dispatcher{
		primary:   primary,
		secondary: secondary,
		queues:    make(map[Channel]*jobqueue.Queue, 2),
		seen:      cache.New(dedupeTTL, dedupeCleanup),
		logger:    logging.ForService("notification"),
	}

	retryCfg := jobqueue.RetryConfig{
		Enabled:      settings.Retry.MaxRetries > 0,
		MaxRetries:   settings.Retry.MaxRetries,
		InitialDelay: settings.Retry.InitialDelay,
		MaxDelay:     settings.Retry.MaxDelay,
		Multiplier:   settings.Retry.Multiplier,
	}
	for _, ch := range []Channel{ChannelAlerts, ChannelReports} {
		d.queues[ch] = jobqueue.New("notify-"+string(ch), retryCfg,
			jobqueue.WithFailureHandler(d.onFailedJob))
	}
	return d
}

// Start launches the channel queue workers.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, q := range d.queues {
		q.Start(ctx)
	}
}

// Stop drains the queue workers, waiting up to timeout for each.
func (d *Dispatcher) Stop(timeout time.Duration) {
	for _, q := range d.queues {
		if err := q.Stop(timeout); err != nil {
			d.logger.Warn("queue did not stop cleanly", "queue", q.Name(), "error", err)
		}
	}
}

// Submit queues a task for delivery. A task ID seen recently is dropped so
// replayed submissions cannot double-send.
func (d *Dispatcher) Submit(task *Task) error {
	if _, dup := d.seen.Get(task.ID); dup {
		d.logger.Debug("dropping duplicate task", "task_id", task.ID)
		return nil
	}

	q, ok := d.queues[task.Channel]
	if !ok {
		q = d.queues[ChannelAlerts]
	}
	_, err := q.Enqueue(deliveryAction{d}, task)
	if err != nil {
		d.logger.Error("failed to enqueue task",
			"task_id", task.ID, "channel", string(task.Channel), "error", err)
		return err
	}
	// Only a queued task counts as seen; a rejected one may be resubmitted.
	d.seen.Set(task.ID, struct{}{}, cache.DefaultExpiration)
	d.logger.Debug("task queued",
		"task_id", task.ID, "channel", string(task.Channel), "kind", string(task.Kind))
	return nil
}

// Stats returns the per-channel queue statistics.
func (d *Dispatcher) Stats() map[Channel]jobqueue.Stats {
	out := make(map[Channel]jobqueue.Stats, len(d.queues))
	for ch, q := range d.queues {
		out[ch] = q.GetStats()
	}
	return out
}

type deliveryAction struct {
	d *Dispatcher
}

func (a deliveryAction) Execute(ctx context.Context, data any) error {
	task := data.(*Task)
	if err := a.d.primary.Send(ctx, task); err != nil {
		return err
	}

	if a.d.secondary != nil {
		if err := a.d.secondary.Send(ctx, task); err != nil {
			a.d.logger.Warn("secondary transport failed",
				"transport", a.d.secondary.Name(), "task_id", task.ID, "error", err)
		}
	}

	if a.d.OnDelivery != nil {
		a.d.OnDelivery(task, true)
	}
	return nil
}

func (a deliveryAction) GetDescription() string { return "deliver notification" }

func (d *Dispatcher) onFailedJob(job *jobqueue.Job) {
	task, ok := job.Data.(*Task)
	if !ok {
		return
	}
	d.logger.Error("task permanently failed",
		"task_id", task.ID,
		"channel", string(task.Channel),
		"kind", string(task.Kind),
		"attempts", job.Attempts,
		"error", job.LastError)
	if d.OnDelivery != nil {
		d.OnDelivery(task, false)
	}
}
