// Package patch crops a face region and resamples it into the embedding model's input.
package patch

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/facegate/internal/types"
)

// MaxChannelValue is the native 8-bit channel range mapped to 1.0.
const MaxChannelValue = 255.0

// ErrPatchExtraction is returned for degenerate crops.
var ErrPatchExtraction = errors.New("patch extraction failed")

// Patch is a size x size RGB buffer in HWC order, values scaled to [0, 1].
type Patch struct {
	Size int
	Data []float32
}

// At returns the normalized RGB value at (x, y).
func (p *Patch) At(x, y int) (r, g, b float32) {
	off := (y*p.Size + x) * 3
	return p.Data[off], p.Data[off+1], p.Data[off+2]
}

// Image renders the patch back to 8-bit RGBA, mostly for debug dumps.
func (p *Patch) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Size, p.Size))
	for i := 0; i < p.Size*p.Size; i++ {
		for c := 0; c < 3; c++ {
			img.Pix[i*4+c] = uint8(math.Round(math.Max(0, math.Min(1, float64(p.Data[i*3+c]))) * MaxChannelValue))
		}
		img.Pix[i*4+3] = 255
	}
	return img
}

// Extract crops box out of img (which must already be validated against img's bounds),
// bilinear-resizes it to size x size and scales channels by 1/MaxChannelValue.
func Extract(img *image.RGBA, box types.BoundingBox, size int) (*Patch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: target size %d", ErrPatchExtraction, size)
	}
	crop, err := Crop(img, box)
	if err != nil {
		return nil, err
	}
	data := Resize(crop, size)
	for i := range data {
		data[i] /= MaxChannelValue
	}
	return &Patch{Size: size, Data: data}, nil
}

// Crop copies the integer rectangle box out of img.
func Crop(img *image.RGBA, box types.BoundingBox) (*image.RGBA, error) {
	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("%w: degenerate crop %v", ErrPatchExtraction, box)
	}
	r := image.Rect(box.Left, box.Top, box.Right(), box.Bottom()).Add(img.Bounds().Min)
	if !r.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: crop %v outside %v", ErrPatchExtraction, box, img.Bounds())
	}

	out := image.NewRGBA(image.Rect(0, 0, box.Width, box.Height))
	for y := 0; y < box.Height; y++ {
		so := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+box.Width*4], img.Pix[so:so+box.Width*4])
	}
	return out, nil
}

// Resize bilinear-samples src to a size x size RGB float buffer (HWC, 0-255 range).
// Sample positions use pixel-center alignment and clamp at the edges.
func Resize(src *image.RGBA, size int) []float32 {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	out := make([]float32, size*size*3)

	xs := make([]axisSample, size)
	for i := range xs {
		xs[i] = sampleAxis(i, size, sw)
	}

	for dy := 0; dy < size; dy++ {
		ys := sampleAxis(dy, size, sh)
		row0 := src.PixOffset(b.Min.X, b.Min.Y+ys.i0)
		row1 := src.PixOffset(b.Min.X, b.Min.Y+ys.i1)
		for dx := 0; dx < size; dx++ {
			xa := xs[dx]
			o := (dy*size + dx) * 3
			for c := 0; c < 3; c++ {
				p00 := float64(src.Pix[row0+xa.i0*4+c])
				p01 := float64(src.Pix[row0+xa.i1*4+c])
				p10 := float64(src.Pix[row1+xa.i0*4+c])
				p11 := float64(src.Pix[row1+xa.i1*4+c])
				top := p00 + (p01-p00)*xa.t
				bot := p10 + (p11-p10)*xa.t
				out[o+c] = float32(top + (bot-top)*ys.t)
			}
		}
	}
	return out
}

type axisSample struct {
	i0, i1 int
	t      float64
}

func sampleAxis(d, dstLen, srcLen int) axisSample {
	pos := (float64(d)+0.5)*float64(srcLen)/float64(dstLen) - 0.5
	if pos < 0 {
		pos = 0
	}
	if hi := float64(srcLen - 1); pos > hi {
		pos = hi
	}
	i0 := int(math.Floor(pos))
	i1 := i0 + 1
	if i1 > srcLen-1 {
		i1 = srcLen - 1
	}
	return axisSample{i0: i0, i1: i1, t: pos - float64(i0)}
}
