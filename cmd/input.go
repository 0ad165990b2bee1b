package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facegate/internal/frame"
	"github.com/andresmejia3/facegate/internal/types"
)

// loadFrame reads a still frame from disk. Raw .yuv/.i420 files are packed I420 and
// need width and height; anything else is decoded as an image and converted.
func loadFrame(path string, width, height, rotation int) (types.Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yuv", ".i420":
		if width <= 0 || height <= 0 {
			return types.Frame{}, fmt.Errorf("raw frame %s needs --width and --height", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return types.Frame{}, err
		}
		return frame.FromI420(data, width, height, rotation)
	}

	f, err := os.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return frame.FromImage(img, rotation), nil
}

// parseBox reads "left,top,width,height".
func parseBox(s string) (types.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.BoundingBox{}, fmt.Errorf("box must be left,top,width,height, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.BoundingBox{}, fmt.Errorf("box component %q: %w", p, err)
		}
		v[i] = n
	}
	return types.BoundingBox{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}, nil
}

// parseSize reads "WxH".
func parseSize(s string) (types.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return types.Size{}, fmt.Errorf("size must be WxH, got %q", s)
	}
	fw, err := strconv.ParseFloat(w, 64)
	if err != nil || fw <= 0 {
		return types.Size{}, fmt.Errorf("invalid width in %q", s)
	}
	fh, err := strconv.ParseFloat(h, 64)
	if err != nil || fh <= 0 {
		return types.Size{}, fmt.Errorf("invalid height in %q", s)
	}
	return types.Size{W: fw, H: fh}, nil
}
