package inference

import (
	"image"

	"github.com/nfnt/resize"
)

const (
	// ImageSize is the square spatial resolution the classifier expects.
	ImageSize = 224

	normMean = 0.5
	normStd  = 0.5
)

// InputShape is NCHW for a single grayscale image.
var InputShape = []int64{1, 1, ImageSize, ImageSize}

// InputLen is the number of float32 values in one model input.
const InputLen = ImageSize * ImageSize

// Tensor is a model input in NCHW layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Preprocess resizes img to ImageSize×ImageSize with bilinear interpolation,
// scales pixels into [0,1] and remaps them to [-1,1].
func Preprocess(img *image.Gray) Tensor {
	resized := resize.Resize(ImageSize, ImageSize, img, resize.Bilinear)

	data := make([]float32, InputLen)
	b := resized.Bounds()
	switch g := resized.(type) {
	case *image.Gray:
		for y := 0; y < ImageSize; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			row := g.Pix[off : off+ImageSize]
			for x, p := range row {
				data[y*ImageSize+x] = normalizePixel(p)
			}
		}
	default:
		for y := 0; y < ImageSize; y++ {
			for x := 0; x < ImageSize; x++ {
				r, _, _, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
				data[y*ImageSize+x] = normalizePixel(uint8(r >> 8))
			}
		}
	}

	shape := make([]int64, len(InputShape))
	copy(shape, InputShape)
	return Tensor{Shape: shape, Data: data}
}

func normalizePixel(p uint8) float32 {
	return (float32(p)/255 - normMean) / normStd
}
