// Package overlay computes the on-screen face rectangle and balance indicators for a detection.
package overlay

import "github.com/andresmejia3/facegate/internal/types"

// BalanceInset is the distance of a balance indicator from the overlay edge.
const BalanceInset = 50.0

// Gravity is the side of the overlay a face leans towards.
type Gravity int

const (
	Left Gravity = iota
	Right
	Top
	Bottom
)

func (g Gravity) String() string {
	return [...]string{"left", "right", "top", "bottom"}[g]
}

type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is everything the display layer needs to draw one face.
type Geometry struct {
	Face              Rect    `json:"face"`
	HorizontalCircle  Point   `json:"horizontal_circle"`
	VerticalCircle    Point   `json:"vertical_circle"`
	HorizontalGravity Gravity `json:"horizontal_gravity"`
	VerticalGravity   Gravity `json:"vertical_gravity"`
}

// Compute derives the overlay for box on a surface of the given size.
// surface.W/H are the dimensions as captured; orientation decides which one is the
// overlay's width. Front-facing previews are mirrored horizontally.
func Compute(box types.BoundingBox, surface types.Size, facing types.Facing, orientation types.Orientation) Geometry {
	w, h := overlayAxes(surface, orientation)
	hg := horizontalGravity(facing, float64(box.CenterX()), w)
	vg := verticalGravity(float64(box.CenterY()), h)

	return Geometry{
		Face:              faceRect(box, surface, facing),
		HorizontalCircle:  Point{X: horizontalCircleX(hg, w), Y: h / 2},
		VerticalCircle:    Point{X: w / 2, Y: verticalCircleY(vg, h)},
		HorizontalGravity: hg,
		VerticalGravity:   vg,
	}
}

// overlayAxes returns (width, height) of the overlay for the current orientation.
func overlayAxes(surface types.Size, orientation types.Orientation) (float64, float64) {
	if orientation == types.Landscape {
		return surface.H, surface.W
	}
	return surface.W, surface.H
}

// faceRect centers the box's own size on its center. The mirrored left edge uses
// the surface's first dimension regardless of orientation.
func faceRect(box types.BoundingBox, surface types.Size, facing types.Facing) Rect {
	cx, cy := float64(box.CenterX()), float64(box.CenterY())
	bw, bh := float64(box.Width), float64(box.Height)

	left := cx - bw/2
	if facing == types.FacingFront {
		left = surface.W - cx - bw/2
	}
	return Rect{Left: left, Top: cy - bh/2, Width: bw, Height: bh}
}

// horizontalRules holds the per-facing center comparison. Front previews are
// mirrored, so a face left of the midline in sensor space leans right on screen.
var horizontalRules = map[types.Facing]func(centerX, mid float64) Gravity{
	types.FacingFront: func(centerX, mid float64) Gravity {
		if centerX <= mid {
			return Right
		}
		return Left
	},
	types.FacingBack: func(centerX, mid float64) Gravity {
		if centerX >= mid {
			return Right
		}
		return Left
	},
}

func horizontalGravity(facing types.Facing, centerX, overlayW float64) Gravity {
	rule, ok := horizontalRules[facing]
	if !ok {
		rule = horizontalRules[types.FacingBack]
	}
	return rule(centerX, overlayW/2)
}

func verticalGravity(centerY, overlayH float64) Gravity {
	if centerY >= overlayH/2 {
		return Bottom
	}
	return Top
}

// The indicators sit on the edge opposite the face's gravity. Right gravity, which
// includes a front-camera face centered exactly on the midline, puts the circle at
// x = BalanceInset; only Left gravity uses overlayW - BalanceInset.
func horizontalCircleX(g Gravity, overlayW float64) float64 {
	if g == Left {
		return overlayW - BalanceInset
	}
	return BalanceInset
}

func verticalCircleY(g Gravity, overlayH float64) float64 {
	if g == Top {
		return overlayH - BalanceInset
	}
	return BalanceInset
}
