package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roadsentry/roadsentry-go/internal/classifier"
	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
	"github.com/roadsentry/roadsentry-go/internal/enrichment"
	"github.com/roadsentry/roadsentry-go/internal/frame"
	"github.com/roadsentry/roadsentry-go/internal/notification"
	"github.com/roadsentry/roadsentry-go/internal/observability"
)

func TestMain(m *testing.M) {
	// the task dedupe cache owns a long-lived janitor goroutine
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

// recordingTransport records delivered tasks per channel.
type recordingTransport struct {
	mu    sync.Mutex
	tasks map[notification.Channel][]*notification.Task
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{tasks: make(map[notification.Channel][]*notification.Task)}
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, task *notification.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.Channel] = append(r.tasks[task.Channel], task)
	return nil
}

func (r *recordingTransport) channel(ch notification.Channel) []*notification.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*notification.Task, len(r.tasks[ch]))
	copy(out, r.tasks[ch])
	return out
}

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) CheckAvailability(context.Context) error { return nil }

func (p *scriptedProvider) Generate(_ context.Context, req enrichment.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if req.ExpectJSON {
		return `{"accident_severity": "severe"}`, nil
	}
	return "analysis text", nil
}

func testPipelineSettings() *conf.Settings {
	return &conf.Settings{
		Main: conf.MainSettings{
			Name:     "roadsentry-test",
			Location: "Main St & 5th Ave",
			CameraID: "cam-7",
		},
		Stream: conf.StreamSettings{
			Source:         "fixture",
			SampleInterval: 500 * time.Millisecond,
		},
		Detection: conf.DetectionSettings{
			LowThreshold:       0.5,
			HighThreshold:      0.8,
			WindowSize:         5,
			MinConfirmFraction: 0.3,
			WindowTimeout:      30 * time.Second,
			Cooldown:           2 * time.Minute,
		},
		Enrichment: conf.EnrichmentSettings{
			Enabled:        true,
			Provider:       "gemini",
			Timeout:        time.Second,
			EventTimeout:   10 * time.Second,
			Concurrency:    2,
			NotifyProgress: true,
			Products: conf.ProductSettings{
				SceneDescription:   true,
				StructuredFindings: true,
				Recommendations:    true,
				Report:             true,
			},
		},
		Notify: conf.NotifySettings{
			Retry: conf.RetrySettings{
				MaxRetries:   1,
				InitialDelay: 5 * time.Millisecond,
				MaxDelay:     20 * time.Millisecond,
				Multiplier:   2.0,
			},
		},
	}
}

// scoreClassifier maps frame sequence numbers to scripted scores.
func scoreClassifier(scores []float64) classifier.Classifier {
	return classifier.Func(func(_ context.Context, f *frame.Frame) (float64, error) {
		return scores[f.Seq-1], nil
	})
}

func fixtureFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	}
	return frames
}

func waitForEvent(t *testing.T, p *Pipeline, cond func(*detection.Event) bool) *detection.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range p.Events() {
			if cond(e) {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event condition not met within deadline")
	return nil
}

func TestPipelineEndToEnd(t *testing.T) {
	settings := testPipelineSettings()
	scores := []float64{0.1, 0.1, 0.9, 0.95, 0.1}

	transport := newRecordingTransport()
	dispatcher := notification.NewDispatcher(&settings.Notify, transport, nil)
	provider := &scriptedProvider{}
	orchestrator := enrichment.NewOrchestrator(settings, provider)
	metrics := observability.NewMetrics()

	p := New(settings, frame.NewFixtureSource(fixtureFrames(len(scores))), scoreClassifier(scores),
		dispatcher, orchestrator, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	require.NoError(t, p.Run(ctx))

	event := waitForEvent(t, p, func(e *detection.Event) bool {
		return len(e.Results()) == 4
	})
	assert.InDelta(t, 0.95, event.PeakScore, 1e-9)
	require.NotNil(t, event.Frame)
	assert.EqualValues(t, 4, event.Frame.Seq)

	// every product succeeded
	for _, kind := range []enrichment.ProductKind{
		enrichment.ProductSceneDescription,
		enrichment.ProductStructuredFindings,
		enrichment.ProductRecommendations,
		enrichment.ProductReport,
	} {
		result := event.ResultFor(string(kind))
		require.NotNil(t, result, "missing %s", kind)
		assert.False(t, result.Failed())
	}

	// alerts channel: the urgent alert strictly precedes everything else
	waitForEvent(t, p, func(e *detection.Event) bool {
		return len(e.Deliveries()) >= 9 // 2 alert + 2 progress + 5 product messages
	})
	alerts := transport.channel(notification.ChannelAlerts)
	require.NotEmpty(t, alerts)
	assert.Equal(t, notification.KindAlert, alerts[0].Kind)
	assert.Equal(t, "URGENT: Accident Detected!", alerts[0].Title)
	assert.NotEmpty(t, alerts[0].Photo)

	reports := transport.channel(notification.ChannelReports)
	require.NotEmpty(t, reports)
	assert.Equal(t, notification.KindAlert, reports[0].Kind, "evidence photo goes out before analysis")

	assert.Equal(t, detection.StatusDelivered, event.Status())

	p.drain()
	dispatcher.Stop(time.Second)
	require.NoError(t, p.Close())
}

func TestPipelineStricterFractionNeverConfirms(t *testing.T) {
	settings := testPipelineSettings()
	settings.Detection.MinConfirmFraction = 0.6
	scores := []float64{0.1, 0.1, 0.9, 0.95, 0.1}

	transport := newRecordingTransport()
	dispatcher := notification.NewDispatcher(&settings.Notify, transport, nil)

	p := New(settings, frame.NewFixtureSource(fixtureFrames(len(scores))), scoreClassifier(scores),
		dispatcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, p.Events())
	assert.Empty(t, transport.channel(notification.ChannelAlerts))

	dispatcher.Stop(time.Second)
	require.NoError(t, p.Close())
}

func TestPipelineSkipsFailedClassifications(t *testing.T) {
	settings := testPipelineSettings()
	settings.Enrichment.Enabled = false

	scores := []float64{0.9, 0, 0.95} // frame 2 fails classification
	cls := classifier.Func(func(_ context.Context, f *frame.Frame) (float64, error) {
		if f.Seq == 2 {
			return 0, assert.AnError
		}
		return scores[f.Seq-1], nil
	})

	transport := newRecordingTransport()
	dispatcher := notification.NewDispatcher(&settings.Notify, transport, nil)
	metrics := observability.NewMetrics()

	p := New(settings, frame.NewFixtureSource(fixtureFrames(len(scores))), cls,
		dispatcher, nil, nil, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	require.NoError(t, p.Run(ctx))

	// the failed frame is skipped, the remaining highs still confirm
	require.Len(t, p.Events(), 1)

	event := waitForEvent(t, p, func(e *detection.Event) bool {
		return len(e.Deliveries()) == 2
	})
	assert.Equal(t, detection.StatusDelivered, event.Status(), "alert-only event completes without enrichment")

	dispatcher.Stop(time.Second)
	require.NoError(t, p.Close())
}

func TestPipelineAlertOnlyWhenEnrichmentDisabled(t *testing.T) {
	settings := testPipelineSettings()
	settings.Enrichment.Enabled = false
	scores := []float64{0.9, 0.95}

	transport := newRecordingTransport()
	dispatcher := notification.NewDispatcher(&settings.Notify, transport, nil)

	p := New(settings, frame.NewFixtureSource(fixtureFrames(len(scores))), scoreClassifier(scores),
		dispatcher, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	require.NoError(t, p.Run(ctx))

	event := waitForEvent(t, p, func(e *detection.Event) bool {
		return len(e.Deliveries()) == 2
	})
	for _, d := range event.Deliveries() {
		assert.True(t, d.Delivered)
	}

	// nothing analytical goes out without an orchestrator
	for _, task := range transport.channel(notification.ChannelReports) {
		assert.Equal(t, notification.KindAlert, task.Kind)
	}

	dispatcher.Stop(time.Second)
	require.NoError(t, p.Close())
}
