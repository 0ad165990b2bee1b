package frame

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/facegate/internal/types"
)

// I420Size returns the byte length of a packed I420 frame.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// FromI420 wraps a packed I420 buffer (as produced by ffmpeg -pix_fmt yuv420p) as a Frame.
// The planes alias data.
func FromI420(data []byte, width, height, rotation int) (types.Frame, error) {
	if len(data) < I420Size(width, height) {
		return types.Frame{}, fmt.Errorf("%w: i420 buffer has %d bytes, need %d", ErrDecode, len(data), I420Size(width, height))
	}
	cw, ch := (width+1)/2, (height+1)/2
	ySize, cSize := width*height, cw*ch
	return types.Frame{
		Width:    width,
		Height:   height,
		Rotation: rotation,
		Planes: [3]types.Plane{
			{Data: data[:ySize], RowStride: width, PixelStride: 1},
			{Data: data[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
			{Data: data[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
		},
	}, nil
}

// FromImage encodes img as a packed I420 frame. Chroma is averaged over each 2x2 block.
func FromImage(img image.Image, rotation int) types.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]byte, I420Size(w, h))
	f, _ := FromI420(buf, w, h, rotation)

	yPlane := f.Planes[0].Data
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgb8(img.At(b.Min.X+x, b.Min.Y+y))
			yy, _, _ := color.RGBToYCbCr(r, g, bl)
			yPlane[y*w+x] = yy
		}
	}

	cw, ch := (w+1)/2, (h+1)/2
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var rs, gs, bs, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= w || y >= h {
						continue
					}
					r, g, bl := rgb8(img.At(b.Min.X+x, b.Min.Y+y))
					rs += int(r)
					gs += int(g)
					bs += int(bl)
					n++
				}
			}
			_, cb, cr := color.RGBToYCbCr(uint8(rs/n), uint8(gs/n), uint8(bs/n))
			f.Planes[1].Data[cy*cw+cx] = cb
			f.Planes[2].Data[cy*cw+cx] = cr
		}
	}
	return f
}

func rgb8(c color.Color) (uint8, uint8, uint8) {
	r, g, b, _ := c.RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
