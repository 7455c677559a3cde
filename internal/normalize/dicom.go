package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"
)

// DICOMDecoder extracts the first frame of a DICOM object and stretches its
// intensities to the full 8-bit range using the frame's own min and max.
type DICOMDecoder struct {
	logger *zap.Logger
}

func NewDICOMDecoder(logger *zap.Logger) *DICOMDecoder {
	return &DICOMDecoder{logger: logger}
}

func (*DICOMDecoder) Name() string { return "dicom" }

func (d *DICOMDecoder) Decode(data []byte) (*image.Gray, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dicom: %w", err)
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("dicom has no pixel data: %w", err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, errors.New("dicom pixel data has unexpected value type")
	}
	if len(info.Frames) == 0 {
		return nil, errors.New("dicom pixel data contains no frames")
	}
	if len(info.Frames) > 1 {
		d.logger.Debug("multi-frame dicom, using first frame", zap.Int("frames", len(info.Frames)))
	}

	fr := info.Frames[0]
	var grid *sampleGrid
	if fr.IsEncapsulated() {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode encapsulated frame: %w", err)
		}
		grid = gridFromImage(img)
	} else {
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("failed to read native frame: %w", err)
		}
		grid, err = gridFromNative(native.Rows, native.Cols, native.Data)
		if err != nil {
			return nil, err
		}
		if signed, bits := pixelEncoding(&ds); signed {
			grid.signExtend(bits)
		}
	}

	img, constant := grid.render()
	if constant {
		d.logger.Warn("dicom frame has constant intensity, producing blank image",
			zap.Int("rows", grid.rows), zap.Int("cols", grid.cols))
	}
	return img, nil
}

// pixelEncoding reports whether stored samples are two's complement and how
// many bits each one holds. The parser returns raw unsigned words.
func pixelEncoding(ds *dicom.Dataset) (signed bool, bits int) {
	rep, ok := intElement(ds, tag.PixelRepresentation)
	if !ok || rep != 1 {
		return false, 0
	}
	bits, ok = intElement(ds, tag.BitsStored)
	if !ok || bits <= 0 || bits > 32 {
		bits, ok = intElement(ds, tag.BitsAllocated)
		if !ok || bits <= 0 || bits > 32 {
			return false, 0
		}
	}
	return true, bits
}

func intElement(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	vals, ok := elem.Value.GetValue().([]int)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// sampleGrid holds raw pixel samples row-major, samples interleaved.
type sampleGrid struct {
	rows, cols, samples int
	values              []int
}

func gridFromNative(rows, cols int, data [][]int) (*sampleGrid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", cols, rows)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("frame has %d pixels, expected %d", len(data), rows*cols)
	}
	samples := len(data[0])
	if samples == 0 {
		return nil, errors.New("frame pixels carry no samples")
	}

	g := &sampleGrid{rows: rows, cols: cols, samples: samples, values: make([]int, 0, rows*cols*samples)}
	for i, px := range data {
		if len(px) != samples {
			return nil, fmt.Errorf("pixel %d has %d samples, expected %d", i, len(px), samples)
		}
		g.values = append(g.values, px...)
	}
	return g, nil
}

func gridFromImage(img image.Image) *sampleGrid {
	b := img.Bounds()
	samples := 3
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		samples = 1
	}

	g := &sampleGrid{rows: b.Dy(), cols: b.Dx(), samples: samples, values: make([]int, 0, b.Dx()*b.Dy()*samples)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			if samples == 1 {
				g.values = append(g.values, int(r))
				continue
			}
			g.values = append(g.values, int(r), int(gr), int(bl))
		}
	}
	return g
}

// signExtend reinterprets the low bits of every sample as a signed integer.
func (g *sampleGrid) signExtend(bits int) {
	mask := 1<<bits - 1
	sign := 1 << (bits - 1)
	for i, v := range g.values {
		v &= mask
		if v&sign != 0 {
			v -= 1 << bits
		}
		g.values[i] = v
	}
}

// render applies per-frame min-max scaling into [0,255] and converts the
// result to luminance. When every sample is equal the image is all zeros
// and constant is true.
func (g *sampleGrid) render() (img *image.Gray, constant bool) {
	img = image.NewGray(image.Rect(0, 0, g.cols, g.rows))
	if len(g.values) == 0 {
		return img, true
	}

	lo, hi := g.values[0], g.values[0]
	for _, v := range g.values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return img, true
	}

	span := float32(hi - lo)
	scale := func(v int) uint8 {
		return uint8(float32(v-lo) / span * 255)
	}

	for i := 0; i < g.rows*g.cols; i++ {
		px := g.values[i*g.samples : (i+1)*g.samples]
		if g.samples < 3 {
			img.Pix[i] = scale(px[0])
			continue
		}
		c := color.RGBA{R: scale(px[0]), G: scale(px[1]), B: scale(px[2]), A: 0xff}
		img.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
	}
	return img, false
}
