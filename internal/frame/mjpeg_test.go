package frame

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jpeg builds a minimal JPEG-looking payload with SOI/EOI markers around body.
func jpeg(body ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, body...)
	out = append(out, 0xFF, 0xD9)
	return out
}

func TestJPEGScannerSplitsFrames(t *testing.T) {
	t.Parallel()

	a := jpeg(0x01, 0x02, 0x03)
	b := jpeg(0x04, 0x05)
	stream := append(append([]byte{}, a...), b...)

	sc := newJPEGScanner(bytes.NewReader(stream))

	got, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = sc.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJPEGScannerSkipsLeadingGarbage(t *testing.T) {
	t.Parallel()

	a := jpeg(0xAA)
	stream := append([]byte{0x00, 0x11, 0xFF, 0x00, 0x22}, a...)

	sc := newJPEGScanner(bytes.NewReader(stream))
	got, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestJPEGScannerStuffedBytes(t *testing.T) {
	t.Parallel()

	// 0xFF 0x00 inside the entropy-coded segment must not terminate the frame
	a := jpeg(0x10, 0xFF, 0x00, 0x20)
	sc := newJPEGScanner(bytes.NewReader(a))

	got, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestJPEGScannerTruncatedFrame(t *testing.T) {
	t.Parallel()

	truncated := []byte{0xFF, 0xD8, 0x01, 0x02}
	sc := newJPEGScanner(bytes.NewReader(truncated))

	_, err := sc.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFixtureSource(t *testing.T) {
	t.Parallel()

	frames := [][]byte{jpeg(0x01), jpeg(0x02)}
	src := NewFixtureSource(frames)
	ctx := context.Background()

	f1, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.Seq)
	assert.Equal(t, frames[0], f1.Data)

	f2, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f2.Seq)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.NoError(t, src.Close())
}

func TestFixtureSourceContextCancelled(t *testing.T) {
	t.Parallel()

	src := NewFixtureSource([][]byte{jpeg(0x01)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpegBuildArgsRTSP(t *testing.T) {
	t.Parallel()

	src := NewFFmpegSource(testStreamSettings("rtsp://cam.local/live"))
	args := src.buildArgs()

	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "rtsp://cam.local/live")
	assert.Contains(t, args, "image2pipe")
	assert.Contains(t, args, "fps=2,scale=250:250")
}

func TestFFmpegBuildArgsFile(t *testing.T) {
	t.Parallel()

	src := NewFFmpegSource(testStreamSettings("/videos/cam.mp4"))
	args := src.buildArgs()

	assert.NotContains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "/videos/cam.mp4")
	assert.False(t, src.isLive())
}
