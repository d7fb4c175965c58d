package frame

import (
	"context"
	"time"
)

// FixtureSource replays a fixed set of frames, used in tests and for
// offline pipeline runs against captured samples.
type FixtureSource struct {
	frames [][]byte
	idx    int
	now    func() time.Time
}

// NewFixtureSource builds a source that yields the given JPEG payloads in
// order and then reports end of stream.
func NewFixtureSource(frames [][]byte) *FixtureSource {
	return &FixtureSource{frames: frames, now: time.Now}
}

// Next yields the next fixture frame or ErrEndOfStream.
func (s *FixtureSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= len(s.frames) {
		return nil, ErrEndOfStream
	}
	f := &Frame{
		Seq:       int64(s.idx + 1),
		Timestamp: s.now(),
		Data:      s.frames[s.idx],
	}
	s.idx++
	return f, nil
}

// Close implements Source.
func (s *FixtureSource) Close() error { return nil }
