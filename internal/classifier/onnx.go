package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/frame"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXClassifier runs the accident CNN through ONNX Runtime. The model takes
// a [1, H, W, 3] RGB tensor and outputs [accident, no_accident] class
// probabilities.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	width      int
	height     int

	mu sync.Mutex // session is not documented as concurrency-safe
}

// NewONNXClassifier loads the ONNX model and creates an inference session.
func NewONNXClassifier(settings *conf.ClassifierSettings, width, height int) (*ONNXClassifier, error) {
	if err := initORT(settings.RuntimeLib); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(settings.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model must have at least one input and output")
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if settings.Threads > 0 {
		opts.SetIntraOpNumThreads(settings.Threads)
		opts.SetInterOpNumThreads(1)
	}

	session, err := ort.NewDynamicAdvancedSession(
		settings.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXClassifier{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		width:      width,
		height:     height,
	}, nil
}

// Classify decodes the frame and runs one inference call. The returned score
// is the accident class probability.
func (c *ONNXClassifier) Classify(ctx context.Context, f *frame.Frame) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	input, err := c.preprocess(f.Data)
	if err != nil {
		return 0, errors.New(err).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Context("frame_seq", f.Seq).
			Build()
	}

	shape := ort.NewShape(1, int64(c.height), int64(c.width), 3)
	tensor, err := ort.NewTensor(shape, input)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tensor.Destroy()

	c.mu.Lock()
	outputs := []ort.Value{nil}
	err = c.session.Run([]ort.Value{tensor}, outputs)
	c.mu.Unlock()
	if err != nil {
		return 0, errors.New(fmt.Errorf("onnx: inference failed: %w", err)).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Context("frame_seq", f.Seq).
			Build()
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("onnx: unexpected output tensor type %T", outputs[0])
	}
	probs := out.GetData()
	if len(probs) < 1 {
		return 0, fmt.Errorf("onnx: empty output tensor")
	}

	// Index 0 is the accident class. Clamp against models emitting values
	// a hair outside [0,1] after quantization.
	score := math.Min(1, math.Max(0, float64(probs[0])))
	return score, nil
}

// preprocess decodes the JPEG frame into a flat [H*W*3] RGB float tensor,
// matching the model's training input (raw 0-255 channel values).
func (c *ONNXClassifier) preprocess(data []byte) ([]float32, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != c.width || bounds.Dy() != c.height {
		return nil, fmt.Errorf("frame is %dx%d, classifier expects %dx%d",
			bounds.Dx(), bounds.Dy(), c.width, c.height)
	}

	out := make([]float32, c.width*c.height*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := rgb8(img, x, y)
			out[i] = float32(r)
			out[i+1] = float32(g)
			out[i+2] = float32(b)
			i += 3
		}
	}
	return out, nil
}

func rgb8(img image.Image, x, y int) (r, g, b uint8) {
	r16, g16, b16, _ := img.At(x, y).RGBA()
	return uint8(r16 >> 8), uint8(g16 >> 8), uint8(b16 >> 8)
}

// Close releases the inference session.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return fmt.Errorf("onnx: failed to destroy session: %w", err)
		}
		c.session = nil
	}
	return nil
}
