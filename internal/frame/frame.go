// Package frame provides video frame acquisition for the detection pipeline.
// Frames are sampled at a bounded rate from a video file or RTSP stream and
// handed to the score provider as JPEG images.
package frame

import (
	"context"
	"time"

	"github.com/roadsentry/roadsentry-go/internal/errors"
)

// Sentinel errors returned by Source implementations.
var (
	// ErrEndOfStream indicates the source reached the natural end of its input.
	ErrEndOfStream = errors.NewStd("end of stream")

	// ErrStreamUnavailable indicates the source gave up reconnecting. Fatal to
	// the pipeline instance; the operator must restart.
	ErrStreamUnavailable = errors.NewStd("stream unavailable")
)

// Frame is a single sampled video frame. Owned by the source until consumed
// by the classifier; the pipeline retains only the representative frame of a
// confirmed event.
type Frame struct {
	Seq       int64     // monotonic sequence number within this source
	Timestamp time.Time // sample time
	Data      []byte    // JPEG-encoded image
}

// Source yields sampled frames. Implementations handle their own rate
// limiting and reconnection; Next blocks until a frame is available, the
// stream ends, or ctx is done.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}
