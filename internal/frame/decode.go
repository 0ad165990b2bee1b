// Package frame turns raw planar camera frames into interleaved RGBA images.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"github.com/andresmejia3/facegate/internal/types"
)

// ErrDecode is returned when a frame's planes are inconsistent with its declared size.
var ErrDecode = errors.New("frame decode failed")

// Mode selects the color conversion path.
type Mode int

const (
	// ModeDirect converts YCbCr to RGB per pixel (JFIF / full-range BT.601).
	ModeDirect Mode = iota
	// ModeJPEG reproduces the legacy camera path: the planes are compressed to a
	// quality-100 JPEG and decoded back.
	ModeJPEG
)

func (m Mode) String() string {
	if m == ModeJPEG {
		return "jpeg"
	}
	return "direct"
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return ModeDirect, nil
	case "jpeg":
		return ModeJPEG, nil
	}
	return ModeDirect, fmt.Errorf("unknown decode mode %q (use direct or jpeg)", s)
}

// Decode converts f into an RGBA image of the same size. The frame is only read;
// the returned image does not alias any plane buffer.
func Decode(f types.Frame, mode Mode) (*image.RGBA, error) {
	ycc, err := toYCbCr(f)
	if err != nil {
		return nil, err
	}

	if mode == ModeJPEG {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, ycc, &jpeg.Options{Quality: 100}); err != nil {
			return nil, fmt.Errorf("%w: jpeg encode: %v", ErrDecode, err)
		}
		img, err := jpeg.Decode(&buf)
		if err != nil {
			return nil, fmt.Errorf("%w: jpeg decode: %v", ErrDecode, err)
		}
		out := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
		return out, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		rowOff := y * out.Stride
		for x := 0; x < f.Width; x++ {
			yi := ycc.YOffset(x, y)
			ci := ycc.COffset(x, y)
			r, g, b := color.YCbCrToRGB(ycc.Y[yi], ycc.Cb[ci], ycc.Cr[ci])
			off := rowOff + x*4
			out.Pix[off] = r
			out.Pix[off+1] = g
			out.Pix[off+2] = b
			out.Pix[off+3] = 255
		}
	}
	return out, nil
}

// toYCbCr gathers the (possibly strided) planes into a packed 4:2:0 image.
func toYCbCr(f types.Frame) (*image.YCbCr, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrDecode, f.Width, f.Height)
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2

	ycc := image.NewYCbCr(image.Rect(0, 0, f.Width, f.Height), image.YCbCrSubsampleRatio420)
	if err := gather(ycc.Y, ycc.YStride, f.Planes[0], f.Width, f.Height, "Y"); err != nil {
		return nil, err
	}
	if err := gather(ycc.Cb, ycc.CStride, f.Planes[1], cw, ch, "U"); err != nil {
		return nil, err
	}
	if err := gather(ycc.Cr, ycc.CStride, f.Planes[2], cw, ch, "V"); err != nil {
		return nil, err
	}
	return ycc, nil
}

func gather(dst []byte, dstStride int, p types.Plane, w, h int, name string) error {
	ps := p.PixelStride
	if ps <= 0 {
		ps = 1
	}
	rs := p.RowStride
	if rs <= 0 {
		rs = w * ps
	}
	if rs < (w-1)*ps+1 {
		return fmt.Errorf("%w: %s plane row stride %d too small for width %d", ErrDecode, name, rs, w)
	}
	need := (h-1)*rs + (w-1)*ps + 1
	if len(p.Data) < need {
		return fmt.Errorf("%w: %s plane has %d bytes, need %d", ErrDecode, name, len(p.Data), need)
	}

	for y := 0; y < h; y++ {
		src := p.Data[y*rs:]
		row := dst[y*dstStride : y*dstStride+w]
		if ps == 1 {
			copy(row, src[:w])
			continue
		}
		for x := range row {
			row[x] = src[x*ps]
		}
	}
	return nil
}
