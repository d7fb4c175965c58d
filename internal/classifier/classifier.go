// Package classifier provides the per-frame accident score provider. The
// model itself is external to the pipeline; this package defines the
// contract and ships an ONNX runtime implementation for local inference.
package classifier

import (
	"context"

	"github.com/roadsentry/roadsentry-go/internal/frame"
)

// Classifier scores a single frame for accident likelihood. Scores are in
// [0, 1]. Implementations must be safe for use from the frame loop goroutine
// and should be idempotent for identical frames.
type Classifier interface {
	Classify(ctx context.Context, f *frame.Frame) (float64, error)
	Close() error
}

// Func adapts a plain function to the Classifier interface, used in tests
// and for wiring fixture score sequences.
type Func func(ctx context.Context, f *frame.Frame) (float64, error)

// Classify implements Classifier.
func (fn Func) Classify(ctx context.Context, f *frame.Frame) (float64, error) {
	return fn(ctx, f)
}

// Close implements Classifier.
func (Func) Close() error { return nil }
