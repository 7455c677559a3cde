// Package normalize turns uploaded bytes into a canonical single-channel
// 8-bit image. Decoders are tried in a fixed order and the first success wins.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupportedFormat is matched by every error returned when no decoder
// could make sense of an upload.
var ErrUnsupportedFormat = errors.New("unsupported or corrupted image file")

// RawUpload is the transient request payload. ContentType is informational
// only; it never selects the decode path.
type RawUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Decoder is one strategy for producing a canonical image.
type Decoder interface {
	Name() string
	Decode(data []byte) (*image.Gray, error)
}

// Attempt records why a decoder rejected an upload.
type Attempt struct {
	Decoder string
	Err     error
}

// UnsupportedFormatError aggregates the failure of every decoder.
type UnsupportedFormatError struct {
	Attempts []Attempt
}

func (e *UnsupportedFormatError) Error() string {
	if len(e.Attempts) == 0 {
		return "Unsupported or corrupted image file"
	}
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %v", a.Decoder, a.Err))
	}
	return "Unsupported or corrupted image file: " + strings.Join(reasons, "; ")
}

// Is reports ErrUnsupportedFormat as a match.
func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// Unwrap exposes each decoder failure to errors.Is and errors.As.
func (e *UnsupportedFormatError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Normalizer runs its decoders in order until one succeeds.
type Normalizer struct {
	decoders []Decoder
	logger   *zap.Logger
}

// NewNormalizer builds the default pipeline: DICOM first, raster second.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	logger = logger.Named("normalizer")
	return NewNormalizerWith(logger, NewDICOMDecoder(logger), NewRasterDecoder())
}

// NewNormalizerWith builds a normalizer with an explicit decoder order.
func NewNormalizerWith(logger *zap.Logger, decoders ...Decoder) *Normalizer {
	return &Normalizer{decoders: decoders, logger: logger}
}

// Normalize decodes upload into a grayscale image or returns an
// *UnsupportedFormatError.
func (n *Normalizer) Normalize(ctx context.Context, upload RawUpload) (*image.Gray, error) {
	if len(upload.Data) == 0 {
		return nil, &UnsupportedFormatError{Attempts: []Attempt{{Decoder: "input", Err: errors.New("empty upload")}}}
	}

	n.logger.Debug("normalizing upload",
		zap.Int("bytes", len(upload.Data)),
		zap.String("content_type", upload.ContentType),
		zap.String("filename", upload.Filename))

	attempts := make([]Attempt, 0, len(n.decoders))
	for _, d := range n.decoders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := safeDecode(d, upload.Data)
		if err == nil && img == nil {
			err = errors.New("decoder produced no image")
		}
		if err != nil {
			n.logger.Debug("decoder rejected upload", zap.String("decoder", d.Name()), zap.Error(err))
			attempts = append(attempts, Attempt{Decoder: d.Name(), Err: err})
			continue
		}
		n.logger.Debug("decoded upload",
			zap.String("decoder", d.Name()),
			zap.Int("width", img.Bounds().Dx()),
			zap.Int("height", img.Bounds().Dy()))
		return img, nil
	}
	return nil, &UnsupportedFormatError{Attempts: attempts}
}

// safeDecode converts a panic in third-party parsing code into an error.
func safeDecode(d Decoder, data []byte) (img *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	return d.Decode(data)
}
