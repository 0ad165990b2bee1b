package overlay

import (
	"testing"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/stretchr/testify/assert"
)

var surface = types.Size{W: 480, H: 640}

func TestCompute(t *testing.T) {
	centered := types.BoundingBox{Left: 190, Top: 270, Width: 100, Height: 100}  // center (240,320)
	topLeft := types.BoundingBox{Left: 10, Top: 10, Width: 100, Height: 100}     // center (60,60)
	lowerRight := types.BoundingBox{Left: 400, Top: 300, Width: 100, Height: 100} // center (450,350)

	tests := []struct {
		name        string
		box         types.BoundingBox
		facing      types.Facing
		orientation types.Orientation
		want        Geometry
	}{
		{
			name:        "Front portrait tie resolves right",
			box:         centered,
			facing:      types.FacingFront,
			orientation: types.Portrait,
			want: Geometry{
				Face:              Rect{Left: 190, Top: 270, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 50, Y: 320},
				VerticalCircle:    Point{X: 240, Y: 50},
				HorizontalGravity: Right,
				VerticalGravity:   Bottom,
			},
		},
		{
			name:        "Back portrait tie resolves right",
			box:         centered,
			facing:      types.FacingBack,
			orientation: types.Portrait,
			want: Geometry{
				Face:              Rect{Left: 190, Top: 270, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 50, Y: 320},
				VerticalCircle:    Point{X: 240, Y: 50},
				HorizontalGravity: Right,
				VerticalGravity:   Bottom,
			},
		},
		{
			name:        "Back portrait top left",
			box:         topLeft,
			facing:      types.FacingBack,
			orientation: types.Portrait,
			want: Geometry{
				Face:              Rect{Left: 10, Top: 10, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 430, Y: 320},
				VerticalCircle:    Point{X: 240, Y: 590},
				HorizontalGravity: Left,
				VerticalGravity:   Top,
			},
		},
		{
			name:        "Front portrait top left is mirrored",
			box:         topLeft,
			facing:      types.FacingFront,
			orientation: types.Portrait,
			want: Geometry{
				Face:              Rect{Left: 370, Top: 10, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 50, Y: 320},
				VerticalCircle:    Point{X: 240, Y: 590},
				HorizontalGravity: Right,
				VerticalGravity:   Top,
			},
		},
		{
			name:        "Back landscape swaps axes",
			box:         lowerRight,
			facing:      types.FacingBack,
			orientation: types.Landscape,
			want: Geometry{
				Face:              Rect{Left: 400, Top: 300, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 50, Y: 240},
				VerticalCircle:    Point{X: 320, Y: 50},
				HorizontalGravity: Right,
				VerticalGravity:   Bottom,
			},
		},
		{
			name:        "Front landscape mirrors against first dimension",
			box:         lowerRight,
			facing:      types.FacingFront,
			orientation: types.Landscape,
			want: Geometry{
				Face:              Rect{Left: -20, Top: 300, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 590, Y: 240},
				VerticalCircle:    Point{X: 320, Y: 50},
				HorizontalGravity: Left,
				VerticalGravity:   Bottom,
			},
		},
		{
			name:        "Landscape tie on vertical midline",
			box:         types.BoundingBox{Left: 270, Top: 190, Width: 100, Height: 100}, // center (320,240)
			facing:      types.FacingFront,
			orientation: types.Landscape,
			want: Geometry{
				Face:              Rect{Left: 110, Top: 190, Width: 100, Height: 100},
				HorizontalCircle:  Point{X: 50, Y: 240},
				VerticalCircle:    Point{X: 320, Y: 50},
				HorizontalGravity: Right,
				VerticalGravity:   Bottom,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.box, surface, tt.facing, tt.orientation)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHorizontalGravity(t *testing.T) {
	// Every facing resolves an exact tie to Right; the mirrored rule flips only strict sides.
	for _, facing := range []types.Facing{types.FacingBack, types.FacingFront} {
		assert.Equal(t, Right, horizontalGravity(facing, 240, 480), facing.String())
	}
	assert.Equal(t, Left, horizontalGravity(types.FacingBack, 239, 480))
	assert.Equal(t, Left, horizontalGravity(types.FacingFront, 241, 480))
	assert.Equal(t, Right, horizontalGravity(types.FacingBack, 241, 480))
	assert.Equal(t, Right, horizontalGravity(types.FacingFront, 239, 480))
}

func TestCircleOppositeGravity(t *testing.T) {
	assert.Equal(t, 430.0, horizontalCircleX(Left, 480))
	assert.Equal(t, BalanceInset, horizontalCircleX(Right, 480))
	assert.Equal(t, 590.0, verticalCircleY(Top, 640))
	assert.Equal(t, BalanceInset, verticalCircleY(Bottom, 640))

	// A front-camera face on the midline gravitates Right, so its circle sits at the inset.
	assert.Equal(t, BalanceInset, horizontalCircleX(horizontalGravity(types.FacingFront, 240, 480), 480))
}

func TestGravityString(t *testing.T) {
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, "bottom", Bottom.String())
}
