package frame

import (
	"bufio"
	"bytes"
	"io"
)

// JPEG stream markers.
const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8 // start of image
	markerEOI    = 0xD9 // end of image
)

// jpegScanner extracts individual JPEG images from a concatenated MJPEG
// byte stream, as produced by ffmpeg's image2pipe muxer.
type jpegScanner struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func newJPEGScanner(r io.Reader) *jpegScanner {
	return &jpegScanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the bytes of the next complete JPEG image, including the SOI
// and EOI markers. Returns io.EOF when the underlying stream ends before a
// complete image is available.
func (s *jpegScanner) Next() ([]byte, error) {
	if err := s.seekSOI(); err != nil {
		return nil, err
	}

	s.buf.Reset()
	s.buf.WriteByte(markerPrefix)
	s.buf.WriteByte(markerSOI)

	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.buf.WriteByte(b)
		if b != markerPrefix {
			continue
		}

		next, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.buf.WriteByte(next)
		if next == markerEOI {
			out := make([]byte, s.buf.Len())
			copy(out, s.buf.Bytes())
			return out, nil
		}
	}
}

// seekSOI discards stream bytes until a start-of-image marker is consumed.
func (s *jpegScanner) seekSOI() error {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b != markerPrefix {
			continue
		}
		next, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if next == markerSOI {
			return nil
		}
		if next == markerPrefix {
			// could be the prefix of the real marker, put it back
			if err := s.r.UnreadByte(); err != nil {
				return err
			}
		}
	}
}
