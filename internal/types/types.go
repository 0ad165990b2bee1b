package types

import "fmt"

// Plane is one raw pixel plane of a camera frame.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is a borrowed YUV 4:2:0 capture unit. The pipeline must call Release
// once it is done with the frame, on every exit path.
type Frame struct {
	Width    int
	Height   int
	Rotation int      // degrees: 0, 90, 180 or 270
	Planes   [3]Plane // Y, U, V
	release  func()
}

// WithRelease attaches the callback that returns the frame's buffers to the capture subsystem.
func (f Frame) WithRelease(fn func()) Frame {
	f.release = fn
	return f
}

// Release hands the frame's buffers back. Safe to call on frames without a callback.
func (f Frame) Release() {
	if f.release != nil {
		f.release()
	}
}

// BoundingBox is an integer rectangle in image coordinates.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Right() int  { return b.Left + b.Width }
func (b BoundingBox) Bottom() int { return b.Top + b.Height }

// CenterX mirrors integer rect centering: (left+right)>>1.
func (b BoundingBox) CenterX() int { return (b.Left + b.Right()) >> 1 }
func (b BoundingBox) CenterY() int { return (b.Top + b.Bottom()) >> 1 }

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", b.Left, b.Top, b.Width, b.Height)
}

// Embedding is the fixed-length vector produced by the embedding model.
type Embedding []float32

// Facing is the camera lens direction.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// Orientation is the device's UI orientation.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	if o == Landscape {
		return "landscape"
	}
	return "portrait"
}

// Size is a surface size in preview units. W is the first dimension, H the second.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is a single face reported by the external detector.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// FrameTask represents a single frame sent to the detector worker for processing
type FrameTask struct {
	Index int
	Data  []byte
}
