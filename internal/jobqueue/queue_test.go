package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingAction struct {
	mu       sync.Mutex
	calls    []string
	failures int32 // fail this many times before succeeding
	perm     bool  // fail permanently
	executed atomic.Int32
}

func (a *recordingAction) Execute(ctx context.Context, data any) error {
	a.executed.Add(1)
	a.mu.Lock()
	a.calls = append(a.calls, data.(string))
	a.mu.Unlock()

	if a.perm {
		return Permanent(assert.AnError)
	}
	if atomic.AddInt32(&a.failures, -1) >= 0 {
		return assert.AnError
	}
	return nil
}

func (a *recordingAction) GetDescription() string { return "recording action" }

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestExecutesInOrder(t *testing.T) {
	q := New("test", RetryConfig{})
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	action := &recordingAction{failures: -1}
	for _, payload := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(action, payload)
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return q.GetStats().SuccessfulJobs == 3 })

	action.mu.Lock()
	defer action.mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, action.calls)
}

func TestRetryThenSucceed(t *testing.T) {
	// transient failure 3 times, succeeds on 4th attempt, cap allows it
	q := New("test", fastRetryConfig(3))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	action := &recordingAction{failures: 3}
	_, err := q.Enqueue(action, "task")
	require.NoError(t, err)

	waitFor(t, func() bool { return q.GetStats().SuccessfulJobs == 1 })

	stats := q.GetStats()
	assert.Equal(t, 0, stats.FailedJobs)
	assert.Equal(t, 3, stats.RetryAttempts)
	assert.Equal(t, int32(4), action.executed.Load())
}

func TestRetryExhaustionFails(t *testing.T) {
	var failed []*Job
	var failedMu sync.Mutex

	q := New("test", fastRetryConfig(1), WithFailureHandler(func(job *Job) {
		failedMu.Lock()
		failed = append(failed, job)
		failedMu.Unlock()
	}))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	action := &recordingAction{failures: 3} // more failures than attempts
	_, err := q.Enqueue(action, "task")
	require.NoError(t, err)

	waitFor(t, func() bool { return q.GetStats().FailedJobs == 1 })

	failedMu.Lock()
	defer failedMu.Unlock()
	require.Len(t, failed, 1)
	assert.Equal(t, JobStatusFailed, failed[0].Status)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.ErrorIs(t, failed[0].LastError, assert.AnError)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	var failures atomic.Int32
	q := New("test", fastRetryConfig(5), WithFailureHandler(func(*Job) {
		failures.Add(1)
	}))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	action := &recordingAction{perm: true}
	_, err := q.Enqueue(action, "task")
	require.NoError(t, err)

	waitFor(t, func() bool { return failures.Load() == 1 })
	assert.Equal(t, int32(1), action.executed.Load(), "permanent errors must not be retried")
	assert.Equal(t, 0, q.GetStats().RetryAttempts)
}

func TestRetryDoesNotReorderLaterJobs(t *testing.T) {
	q := New("test", fastRetryConfig(2))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var flakyFailures atomic.Int32
	flakyFailures.Store(2)
	_, err := q.Enqueue(actionFunc(func(context.Context, any) error {
		record("flaky")
		if flakyFailures.Add(-1) >= 0 {
			return assert.AnError
		}
		return nil
	}), "flaky")
	require.NoError(t, err)

	_, err = q.Enqueue(actionFunc(func(context.Context, any) error {
		record("steady")
		return nil
	}), "steady")
	require.NoError(t, err)

	waitFor(t, func() bool { return q.GetStats().SuccessfulJobs == 2 })

	// the steady job must not run until the flaky head job has completed
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"flaky", "flaky", "flaky", "steady"}, order)
}

func TestEnqueueValidation(t *testing.T) {
	q := New("test", RetryConfig{}, WithMaxJobs(1))

	_, err := q.Enqueue(&recordingAction{}, "early")
	assert.ErrorIs(t, err, ErrQueueStopped, "enqueue before Start must fail")

	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	_, err = q.Enqueue(nil, "nil")
	assert.ErrorIs(t, err, ErrNilAction)
}

func TestQueueFull(t *testing.T) {
	q := New("test", RetryConfig{}, WithMaxJobs(2))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	// a running job stays at the head until it completes, so blocking the
	// worker keeps both slots occupied
	blocker := make(chan struct{})
	_, err := q.Enqueue(actionFunc(func(ctx context.Context, _ any) error {
		<-blocker
		return nil
	}), "slow")
	require.NoError(t, err)

	_, err = q.Enqueue(&recordingAction{failures: -1}, "fits")
	require.NoError(t, err)
	_, err = q.Enqueue(&recordingAction{failures: -1}, "overflow")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.GetStats().RejectedJobs)

	close(blocker)
	waitFor(t, func() bool { return q.GetStats().SuccessfulJobs == 2 })
}

func TestPanicRecovered(t *testing.T) {
	var failures atomic.Int32
	q := New("test", RetryConfig{}, WithFailureHandler(func(*Job) { failures.Add(1) }))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop(time.Second)) }()

	_, err := q.Enqueue(actionFunc(func(context.Context, any) error {
		panic("boom")
	}), "task")
	require.NoError(t, err)

	waitFor(t, func() bool { return failures.Load() == 1 })

	// queue keeps working after a panic
	steady := &recordingAction{failures: -1}
	_, err = q.Enqueue(steady, "after")
	require.NoError(t, err)
	waitFor(t, func() bool { return q.GetStats().SuccessfulJobs == 1 })
}

type actionFunc func(ctx context.Context, data any) error

func (f actionFunc) Execute(ctx context.Context, data any) error { return f(ctx, data) }
func (f actionFunc) GetDescription() string                      { return "func action" }
