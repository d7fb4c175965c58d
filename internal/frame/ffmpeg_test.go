package frame

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsentry/roadsentry-go/internal/errors"
)

func TestLiveSourceGivesUpAfterReconnectBudget(t *testing.T) {
	t.Parallel()

	settings := testStreamSettings("rtsp://127.0.0.1:1/cam")
	settings.FfmpegPath = filepath.Join(t.TempDir(), "no-such-ffmpeg")
	settings.Reconnect.InitialDelay = time.Millisecond
	settings.Reconnect.MaxDelay = 5 * time.Millisecond

	src := NewFFmpegSource(settings)
	defer func() { _ = src.Close() }()

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamUnavailable)

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errors.CategoryStream, ee.Category)
	assert.Equal(t, settings.Reconnect.MaxRetries+1, ee.Context["attempts"])
}

func TestLiveSourceReconnectStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	settings := testStreamSettings("rtsp://127.0.0.1:1/cam")
	settings.FfmpegPath = filepath.Join(t.TempDir(), "no-such-ffmpeg")
	settings.Reconnect.MaxRetries = 1000
	settings.Reconnect.InitialDelay = time.Millisecond
	settings.Reconnect.MaxDelay = time.Millisecond

	src := NewFFmpegSource(settings)
	defer func() { _ = src.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
