// Package inference turns a canonical grayscale image into a hemorrhage class.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"
)

// ErrInference is matched by every failure raised while preparing or
// running the forward pass.
var ErrInference = errors.New("inference failed")

// InferenceError wraps a failure in one dispatch stage.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed during %s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// Classifier runs the forward pass. It must be safe for concurrent use and
// return one logit per class.
type Classifier interface {
	Classify(ctx context.Context, input Tensor) ([]float32, error)
}

// Prediction is the immutable outcome of one dispatch.
type Prediction struct {
	Index         int
	Label         string
	Logits        []float32
	Probabilities []float32
}

// Dispatcher owns the read-only classifier shared by all requests.
type Dispatcher struct {
	classifier Classifier
	logger     *zap.Logger
}

func NewDispatcher(classifier Classifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{classifier: classifier, logger: logger.Named("dispatcher")}
}

// Dispatch preprocesses img and classifies it.
func (d *Dispatcher) Dispatch(ctx context.Context, img *image.Gray) (*Prediction, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &InferenceError{Stage: "preprocess", Err: errors.New("empty image")}
	}
	return d.run(ctx, Preprocess(img))
}

// DispatchTensor classifies an input that has already been preprocessed.
func (d *Dispatcher) DispatchTensor(ctx context.Context, data []float32) (*Prediction, error) {
	if len(data) != InputLen {
		return nil, &InferenceError{Stage: "preprocess", Err: fmt.Errorf("expected %d values, got %d", InputLen, len(data))}
	}
	shape := make([]int64, len(InputShape))
	copy(shape, InputShape)
	return d.run(ctx, Tensor{Shape: shape, Data: data})
}

func (d *Dispatcher) run(ctx context.Context, input Tensor) (*Prediction, error) {
	logits, err := d.classifier.Classify(ctx, input)
	if err != nil {
		return nil, &InferenceError{Stage: "forward", Err: err}
	}
	if len(logits) != NumClasses {
		return nil, &InferenceError{Stage: "postprocess", Err: fmt.Errorf("expected %d logits, got %d", NumClasses, len(logits))}
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, &InferenceError{Stage: "postprocess", Err: fmt.Errorf("logit %d is not finite (%v)", i, v)}
		}
	}

	idx := ArgMax(logits)
	label, ok := Label(idx)
	if !ok {
		return nil, &InferenceError{Stage: "postprocess", Err: fmt.Errorf("class index %d out of range", idx)}
	}

	d.logger.Debug("classified", zap.Int("index", idx), zap.String("label", label))

	out := make([]float32, len(logits))
	copy(out, logits)
	return &Prediction{
		Index:         idx,
		Label:         label,
		Logits:        out,
		Probabilities: Softmax(out),
	}, nil
}

// ArgMax returns the index of the largest value; the first one wins ties.
// NaN never wins. It returns -1 for an empty slice or all-NaN input.
func ArgMax(values []float32) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// Softmax converts logits into probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
