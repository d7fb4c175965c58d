package frame

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// FFmpegSource samples frames by running ffmpeg with an fps filter and
// reading the resulting MJPEG stream from its stdout. It supports local
// video files and RTSP/HTTP streams; live streams are reconnected with
// capped exponential backoff.
type FFmpegSource struct {
	settings conf.StreamSettings
	logger   *slog.Logger

	// OnReconnect, when set, is called each time a live stream is
	// re-established after a read failure.
	OnReconnect func()

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *jpegScanner
	seq     int64
	closed  bool
}

// NewFFmpegSource creates a frame source for the configured stream. The
// ffmpeg process is not started until the first call to Next.
func NewFFmpegSource(settings conf.StreamSettings) *FFmpegSource {
	return &FFmpegSource{
		settings: settings,
		logger:   logging.ForService("frame-source"),
	}
}

// isLive reports whether the source is a network stream rather than a file.
func (s *FFmpegSource) isLive() bool {
	src := s.settings.Source
	return strings.HasPrefix(src, "rtsp://") ||
		strings.HasPrefix(src, "rtmp://") ||
		strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "https://")
}

// Next returns the next sampled frame. For file sources it returns
// ErrEndOfStream at the end of the file. For live sources it transparently
// reconnects; once reconnect attempts are exhausted it returns
// ErrStreamUnavailable and the pipeline instance must stop.
func (s *FFmpegSource) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrEndOfStream
		}
		scanner := s.scanner
		s.mu.Unlock()

		if scanner == nil {
			var err error
			scanner, err = s.connect(ctx)
			if err != nil {
				return nil, err
			}
		}

		data, err := scanner.Next()
		if err == nil {
			s.mu.Lock()
			s.seq++
			frame := &Frame{Seq: s.seq, Timestamp: time.Now(), Data: data}
			s.mu.Unlock()
			return frame, nil
		}

		s.teardown()

		if !s.isLive() {
			// A file that stops yielding frames has simply ended.
			return nil, ErrEndOfStream
		}

		s.logger.Warn("stream read failed, reconnecting", "source", s.settings.Source, "error", err)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
	}
}

// connect starts the ffmpeg process, retrying with capped exponential
// backoff per the reconnect settings.
func (s *FFmpegSource) connect(ctx context.Context) (*jpegScanner, error) {
	rc := s.settings.Reconnect
	backoff := retry.WithCappedDuration(rc.MaxDelay,
		retry.WithMaxRetries(uint64(rc.MaxRetries), retry.NewExponential(rc.InitialDelay)))

	var scanner *jpegScanner
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sc, startErr := s.start(ctx)
		if startErr != nil {
			s.logger.Warn("ffmpeg start failed", "source", s.settings.Source, "error", startErr)
			return retry.RetryableError(startErr)
		}
		scanner = sc
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(fmt.Errorf("%w: %w", ErrStreamUnavailable, err)).
			Component("frame-source").
			Category(errors.CategoryStream).
			Context("source", s.settings.Source).
			Context("attempts", rc.MaxRetries+1).
			Build()
	}
	return scanner, nil
}

// start spawns a single ffmpeg process and wires up the MJPEG scanner.
func (s *FFmpegSource) start(ctx context.Context) (*jpegScanner, error) {
	args := s.buildArgs()

	cmd := exec.CommandContext(ctx, s.settings.FfmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdout = stdout
	s.scanner = newJPEGScanner(stdout)
	scanner := s.scanner
	s.mu.Unlock()

	s.logger.Info("ffmpeg started", "source", s.settings.Source,
		"interval", s.settings.SampleInterval, "pid", cmd.Process.Pid)
	return scanner, nil
}

// buildArgs assembles the ffmpeg command line: sample at the configured
// interval, scale to the classifier's input size, emit MJPEG on stdout.
func (s *FFmpegSource) buildArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if strings.HasPrefix(s.settings.Source, "rtsp://") {
		args = append(args, "-rtsp_transport", s.settings.Transport)
	}

	fps := 1.0 / s.settings.SampleInterval.Seconds()
	filter := fmt.Sprintf("fps=%s,scale=%d:%d",
		strconv.FormatFloat(fps, 'f', -1, 64), s.settings.Width, s.settings.Height)

	args = append(args,
		"-i", s.settings.Source,
		"-vf", filter,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	return args
}

// teardown stops the current ffmpeg process, if any.
func (s *FFmpegSource) teardown() {
	s.mu.Lock()
	cmd := s.cmd
	stdout := s.stdout
	s.cmd = nil
	s.stdout = nil
	s.scanner = nil
	s.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// Close stops the source. Subsequent Next calls return ErrEndOfStream.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.teardown()
	return nil
}
