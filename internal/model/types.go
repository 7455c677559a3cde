package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/Brownie44l1/ich-api/internal/inference"
)

// Metadata describes the exported graph. It is read from the JSON file
// shipped next to the ONNX weights.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// DefaultMetadata matches the DenseNet-121 export with a single-channel stem
// and a six-way head.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  slices.Clone(inference.InputShape),
		OutputShape: []int64{1, inference.NumClasses},
		Classes:     inference.Labels(),
		ImageSize:   inference.ImageSize,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads path and fills unset fields from DefaultMetadata. A
// missing file yields the defaults.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var parsed Metadata
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.merge(parsed)

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) merge(o Metadata) {
	if len(o.InputShape) > 0 {
		m.InputShape = o.InputShape
	}
	if len(o.OutputShape) > 0 {
		m.OutputShape = o.OutputShape
	}
	if len(o.Classes) > 0 {
		m.Classes = o.Classes
	}
	if o.ImageSize != 0 {
		m.ImageSize = o.ImageSize
	}
	if o.InputName != "" {
		m.InputName = o.InputName
	}
	if o.OutputName != "" {
		m.OutputName = o.OutputName
	}
}

// Validate checks that the graph fits the preprocessing and the label table.
func (m Metadata) Validate() error {
	if !slices.Equal(m.InputShape, inference.InputShape) {
		return fmt.Errorf("input shape %v does not match %v", m.InputShape, inference.InputShape)
	}
	if m.ImageSize != inference.ImageSize {
		return fmt.Errorf("image size %d does not match %d", m.ImageSize, inference.ImageSize)
	}
	if n := elements(m.OutputShape); n != inference.NumClasses {
		return fmt.Errorf("output shape %v has %d elements, expected %d", m.OutputShape, n, inference.NumClasses)
	}
	if !slices.Equal(m.Classes, inference.Labels()) {
		return fmt.Errorf("classes %v do not match label table %v", m.Classes, inference.Labels())
	}
	if m.InputName == "" || m.OutputName == "" {
		return errors.New("input and output names must be set")
	}
	return nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
