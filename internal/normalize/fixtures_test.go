package normalize

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	jpegBaseline           = "1.2.840.10008.1.2.4.50"
)

// dicomBuilder writes a minimal Part 10 file in explicit VR little endian.
type dicomBuilder struct {
	buf bytes.Buffer
}

func (b *dicomBuilder) element(group, elem uint16, vr string, value []byte) {
	if len(value)%2 != 0 {
		pad := byte(0)
		if vr != "UI" && vr != "OB" && vr != "OW" {
			pad = ' '
		}
		value = append(value, pad)
	}
	_ = binary.Write(&b.buf, binary.LittleEndian, group)
	_ = binary.Write(&b.buf, binary.LittleEndian, elem)
	b.buf.WriteString(vr)
	switch vr {
	case "OB", "OW", "SQ", "UN", "UT":
		b.buf.Write([]byte{0, 0})
		_ = binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	default:
		_ = binary.Write(&b.buf, binary.LittleEndian, uint16(len(value)))
	}
	b.buf.Write(value)
}

// item writes a sequence or fragment item tag, which carries no VR.
func (b *dicomBuilder) item(elem uint16, value []byte) {
	if len(value)%2 != 0 {
		value = append(value, 0)
	}
	_ = binary.Write(&b.buf, binary.LittleEndian, uint16(0xFFFE))
	_ = binary.Write(&b.buf, binary.LittleEndian, elem)
	_ = binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	b.buf.Write(value)
}

func (b *dicomBuilder) us(group, elem uint16, v uint16) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	b.element(group, elem, "US", out)
}

type dicomFrame struct {
	rows, cols    int
	samples       int
	bitsAllocated int
	bitsStored    int   // defaults to bitsAllocated
	signed        bool  // PixelRepresentation=1
	pixels        []int // row-major, samples interleaved
	skipPixelData bool
	jpeg          []byte // set for a single encapsulated JPEG fragment
}

func buildDICOM(t *testing.T, f dicomFrame) []byte {
	t.Helper()

	var meta dicomBuilder
	meta.element(0x0002, 0x0001, "OB", []byte{0x00, 0x01})
	meta.element(0x0002, 0x0002, "UI", []byte("1.2.840.10008.5.1.4.1.1.2"))
	meta.element(0x0002, 0x0003, "UI", []byte("1.2.826.0.1.3680043.8.498.1"))
	transferSyntax := explicitVRLittleEndian
	if f.jpeg != nil {
		transferSyntax = jpegBaseline
	}
	meta.element(0x0002, 0x0010, "UI", []byte(transferSyntax))

	var out dicomBuilder
	out.buf.Write(make([]byte, 128))
	out.buf.WriteString("DICM")
	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(meta.buf.Len()))
	out.element(0x0002, 0x0000, "UL", groupLength)
	out.buf.Write(meta.buf.Bytes())

	photometric := "MONOCHROME2"
	if f.samples == 3 {
		photometric = "RGB"
	}
	out.us(0x0028, 0x0002, uint16(f.samples))
	out.element(0x0028, 0x0004, "CS", []byte(photometric))
	if f.samples == 3 {
		out.us(0x0028, 0x0006, 0)
	}
	out.us(0x0028, 0x0010, uint16(f.rows))
	out.us(0x0028, 0x0011, uint16(f.cols))
	out.us(0x0028, 0x0100, uint16(f.bitsAllocated))
	bitsStored := f.bitsStored
	if bitsStored == 0 {
		bitsStored = f.bitsAllocated
	}
	representation := uint16(0)
	if f.signed {
		representation = 1
	}
	out.us(0x0028, 0x0101, uint16(bitsStored))
	out.us(0x0028, 0x0102, uint16(bitsStored-1))
	out.us(0x0028, 0x0103, representation)

	if f.skipPixelData {
		return out.buf.Bytes()
	}

	if f.jpeg != nil {
		_ = binary.Write(&out.buf, binary.LittleEndian, uint16(0x7FE0))
		_ = binary.Write(&out.buf, binary.LittleEndian, uint16(0x0010))
		out.buf.WriteString("OB")
		out.buf.Write([]byte{0, 0})
		_ = binary.Write(&out.buf, binary.LittleEndian, uint32(0xFFFFFFFF))
		out.item(0xE000, nil) // empty basic offset table
		out.item(0xE000, f.jpeg)
		out.item(0xE0DD, nil)
		return out.buf.Bytes()
	}

	require.Len(t, f.pixels, f.rows*f.cols*f.samples)
	mask := 1<<bitsStored - 1
	var pixels []byte
	vr := "OW"
	if f.bitsAllocated == 8 {
		vr = "OB"
		for _, p := range f.pixels {
			pixels = append(pixels, byte(p&mask))
		}
	} else {
		for _, p := range f.pixels {
			pixels = binary.LittleEndian.AppendUint16(pixels, uint16(p&mask))
		}
	}
	out.element(0x7FE0, 0x0010, vr, pixels)
	return out.buf.Bytes()
}

func gradient16(rows, cols, lo, step int) []int {
	px := make([]int, rows*cols)
	for i := range px {
		px[i] = lo + i*step
	}
	return px
}

func constantPixels(n, v int) []int {
	px := make([]int, n)
	for i := range px {
		px[i] = v
	}
	return px
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func grayRamp(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	return img
}
