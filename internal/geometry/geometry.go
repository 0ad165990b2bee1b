// Package geometry brings decoded frames into the pipeline's canonical orientation
// and re-expresses face boxes in the corrected image's coordinate space.
package geometry

import (
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/facegate/internal/types"
)

// CanonicalRotation is the rotation hint treated as upright. Frames reported at this
// hint are used as delivered.
const CanonicalRotation = 90

var (
	// ErrInvalidBox means the box does not fit inside the corrected image.
	ErrInvalidBox = errors.New("bounding box outside image bounds")
	// ErrInvalidRotation means the rotation hint is not a multiple of 90 degrees.
	ErrInvalidRotation = errors.New("rotation hint must be a multiple of 90")
)

// CorrectionRotation is the clockwise turn applied to every frame whose hint is not canonical.
const CorrectionRotation = 90

// CorrectionDegrees returns the clockwise rotation applied to a frame with the given
// hint: none for the canonical hint, a quarter turn for any other valid hint.
func CorrectionDegrees(hint int) (int, error) {
	h := ((hint % 360) + 360) % 360
	if h%90 != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRotation, hint)
	}
	if h == CanonicalRotation {
		return 0, nil
	}
	return CorrectionRotation, nil
}

// Normalize rotates img into canonical orientation and maps box (given in the
// frame's original orientation) into the rotated image. The box is validated
// against the corrected bounds; img is returned untouched when no rotation is needed.
func Normalize(img *image.RGBA, hint int, box types.BoundingBox) (*image.RGBA, types.BoundingBox, error) {
	c, err := Correct(img, hint)
	if err != nil {
		return nil, types.BoundingBox{}, err
	}
	mapped, err := c.MapBox(box)
	if err != nil {
		return nil, types.BoundingBox{}, err
	}
	return c.Image, mapped, nil
}

// Corrected is a frame brought into canonical orientation once and shared by
// every face detected in it.
type Corrected struct {
	Image *image.RGBA
	deg   int
	srcW  int
	srcH  int
}

// Correct rotates img by the correction for hint.
func Correct(img *image.RGBA, hint int) (*Corrected, error) {
	deg, err := CorrectionDegrees(hint)
	if err != nil {
		return nil, err
	}
	c := &Corrected{Image: img, deg: deg, srcW: img.Bounds().Dx(), srcH: img.Bounds().Dy()}
	if deg != 0 {
		c.Image = Rotate(img, deg)
	}
	return c, nil
}

// Degrees is the clockwise rotation that was applied.
func (c *Corrected) Degrees() int { return c.deg }

// MapBox re-expresses a box from the original frame in the corrected image and validates it.
func (c *Corrected) MapBox(box types.BoundingBox) (types.BoundingBox, error) {
	mapped := RotateBox(box, c.srcW, c.srcH, c.deg)
	if err := Validate(mapped, c.Image.Bounds().Dx(), c.Image.Bounds().Dy()); err != nil {
		return types.BoundingBox{}, err
	}
	return mapped, nil
}

// Validate checks that box lies within a w x h image.
func Validate(box types.BoundingBox, w, h int) error {
	if box.Left < 0 || box.Top < 0 || box.Width < 0 || box.Height < 0 {
		return fmt.Errorf("%w: %v has negative origin or size", ErrInvalidBox, box)
	}
	if box.Right() > w || box.Bottom() > h {
		return fmt.Errorf("%w: %v exceeds %dx%d", ErrInvalidBox, box, w, h)
	}
	return nil
}

// boxRotations maps a clockwise rotation to the box transform for a srcW x srcH image.
var boxRotations = map[int]func(b types.BoundingBox, srcW, srcH int) types.BoundingBox{
	0: func(b types.BoundingBox, _, _ int) types.BoundingBox { return b },
	90: func(b types.BoundingBox, _, srcH int) types.BoundingBox {
		return types.BoundingBox{Left: srcH - b.Bottom(), Top: b.Left, Width: b.Height, Height: b.Width}
	},
	180: func(b types.BoundingBox, srcW, srcH int) types.BoundingBox {
		return types.BoundingBox{Left: srcW - b.Right(), Top: srcH - b.Bottom(), Width: b.Width, Height: b.Height}
	},
	270: func(b types.BoundingBox, srcW, _ int) types.BoundingBox {
		return types.BoundingBox{Left: b.Top, Top: srcW - b.Right(), Width: b.Height, Height: b.Width}
	},
}

// RotateBox maps box through a clockwise rotation of deg (0, 90, 180, 270) applied
// to a srcW x srcH image.
func RotateBox(box types.BoundingBox, srcW, srcH, deg int) types.BoundingBox {
	fn, ok := boxRotations[deg]
	if !ok {
		return box
	}
	return fn(box, srcW, srcH)
}

// Rotate returns a copy of img rotated clockwise by deg (0, 90, 180, 270).
func Rotate(img *image.RGBA, deg int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if deg == 90 || deg == 270 {
		dw, dh = h, w
	}
	out := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch deg {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			so := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			do := dy*out.Stride + dx*4
			copy(out.Pix[do:do+4], img.Pix[so:so+4])
		}
	}
	return out
}
