package pipeline

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/facegate/internal/embed"
	"github.com/andresmejia3/facegate/internal/frame"
	"github.com/andresmejia3/facegate/internal/geometry"
	"github.com/andresmejia3/facegate/internal/match"
	"github.com/andresmejia3/facegate/internal/overlay"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientFrame builds a w x h I420 frame whose content differs per region.
func gradientFrame(w, h, rotation int, released *int) types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x ^ y) & 0xff), A: 255})
		}
	}
	f := frame.FromImage(img, rotation)
	if released != nil {
		f = f.WithRelease(func() { *released++ })
	}
	return f
}

func newTestPipeline(t *testing.T, state *match.State) *Pipeline {
	t.Helper()
	p, err := New(DefaultConfig(), embed.NewHashEngine(embed.DefaultInputSize, embed.DefaultDim), state, nil)
	require.NoError(t, err)
	return p
}

func TestEnrollThenVerifySameFace(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, match.NewState(match.DefaultThresholdPercent))
	box := types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}

	released := 0
	stored, emb, err := p.Enroll(ctx, gradientFrame(480, 640, 90, &released), box)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Len(t, emb, embed.DefaultDim)
	assert.Equal(t, 1, released)

	res, err := p.Verify(ctx, gradientFrame(480, 640, 90, &released), box)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
	assert.Equal(t, 100, res.Percent)
	assert.True(t, res.Match)
	assert.Equal(t, 2, released)
}

func TestEnrollIsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	state := match.NewState(match.DefaultThresholdPercent)
	p := newTestPipeline(t, state)

	stored, first, err := p.Enroll(ctx, gradientFrame(480, 640, 90, nil), types.BoundingBox{Left: 0, Top: 0, Width: 100, Height: 100})
	require.NoError(t, err)
	require.True(t, stored)

	stored, _, err = p.Enroll(ctx, gradientFrame(480, 640, 90, nil), types.BoundingBox{Left: 300, Top: 400, Width: 100, Height: 100})
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, first, state.Reference())
}

func TestEnrollInvalidBoxReleasesFrame(t *testing.T) {
	p := newTestPipeline(t, nil)
	released := 0

	stored, _, err := p.Enroll(context.Background(), gradientFrame(480, 640, 90, &released), types.BoundingBox{Left: -5, Top: 10, Width: 50, Height: 50})
	assert.ErrorIs(t, err, geometry.ErrInvalidBox)
	assert.False(t, stored)
	assert.Equal(t, 1, released)
	assert.False(t, p.State().HasReference())
}

func TestProcessFrame(t *testing.T) {
	ctx := context.Background()
	state := match.NewState(match.DefaultThresholdPercent)
	p := newTestPipeline(t, state)

	good := types.Detection{Box: types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}, Confidence: 0.99}
	other := types.Detection{Box: types.BoundingBox{Left: 250, Top: 400, Width: 150, Height: 150}, Confidence: 0.9}
	outside := types.Detection{Box: types.BoundingBox{Left: -5, Top: 10, Width: 50, Height: 50}, Confidence: 0.8}
	tiny := types.Detection{Box: types.BoundingBox{Left: 5, Top: 5, Width: 10, Height: 10}, Confidence: 0.7}

	_, _, err := p.Enroll(ctx, gradientFrame(480, 640, 90, nil), good.Box)
	require.NoError(t, err)

	released := 0
	results, err := p.ProcessFrame(ctx, gradientFrame(480, 640, 90, &released), []types.Detection{good, outside, tiny, other})
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	require.Len(t, results, 2)

	assert.Equal(t, good, results[0].Detection)
	assert.Equal(t, good.Box, results[0].Box)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 1.0, results[0].Score.Similarity, 1e-6)
	assert.True(t, results[0].Score.Match)
	assert.Equal(t, overlay.Compute(good.Box, PlaceholderSurface, types.FacingFront, types.Portrait), results[0].Overlay)

	assert.Equal(t, other, results[1].Detection)
	require.NotNil(t, results[1].Score)
	assert.False(t, results[1].Score.Match)
}

func TestProcessFrameWithoutReference(t *testing.T) {
	p := newTestPipeline(t, nil)

	results, err := p.ProcessFrame(context.Background(), gradientFrame(480, 640, 90, nil), []types.Detection{
		{Box: types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Score)
	assert.Len(t, results[0].Embedding, embed.DefaultDim)
}

func TestProcessFrameDimensionMismatchIsFatal(t *testing.T) {
	state := match.NewState(match.DefaultThresholdPercent)
	state.CaptureReference(types.Embedding{1, 0, 0})
	p := newTestPipeline(t, state)

	released := 0
	_, err := p.ProcessFrame(context.Background(), gradientFrame(480, 640, 90, &released), []types.Detection{
		{Box: types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}},
	})
	assert.ErrorIs(t, err, match.ErrDimensionMismatch)
	assert.Equal(t, 1, released)
}

func TestProcessFrameDecodeErrorReleasesFrame(t *testing.T) {
	p := newTestPipeline(t, nil)
	f := gradientFrame(480, 640, 90, nil)
	f.Planes[1].Data = f.Planes[1].Data[:10]

	released := 0
	_, err := p.ProcessFrame(context.Background(), f.WithRelease(func() { released++ }), []types.Detection{
		{Box: types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}},
	})
	assert.ErrorIs(t, err, frame.ErrDecode)
	assert.Equal(t, 1, released)
}

func TestProcessFrameRotatesNonCanonicalFrames(t *testing.T) {
	p := newTestPipeline(t, nil)

	// Any non-canonical hint gets one clockwise quarter turn: 640x480 becomes 480x640.
	for _, hint := range []int{0, 180, 270} {
		det := types.Detection{Box: types.BoundingBox{Left: 0, Top: 0, Width: 100, Height: 50}}
		results, err := p.ProcessFrame(context.Background(), gradientFrame(640, 480, hint, nil), []types.Detection{det})
		require.NoError(t, err)
		require.Len(t, results, 1)

		upright := types.BoundingBox{Left: 430, Top: 0, Width: 50, Height: 100}
		assert.Equal(t, upright, results[0].Box, "hint %d", hint)

		surface := p.SurfaceSize()
		assert.Equal(t, types.Size{W: 480, H: 640}, surface)
		assert.Equal(t, overlay.Compute(upright, surface, types.FacingFront, types.Portrait), results[0].Overlay, "hint %d", hint)
		assert.NotEqual(t, overlay.Compute(det.Box, surface, types.FacingFront, types.Portrait), results[0].Overlay, "hint %d", hint)
	}
}

func TestSurfaceTracking(t *testing.T) {
	p := newTestPipeline(t, nil)
	assert.Equal(t, PlaceholderSurface, p.SurfaceSize())

	_, err := p.ProcessFrame(context.Background(), gradientFrame(480, 640, 90, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderSurface, p.SurfaceSize())

	_, err = p.ProcessFrame(context.Background(), gradientFrame(64, 48, 90, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, types.Size{W: 48, H: 64}, p.SurfaceSize())
}

func TestSwitchFacingAndOrientation(t *testing.T) {
	p := newTestPipeline(t, nil)
	assert.Equal(t, types.FacingFront, p.Facing())
	assert.Equal(t, types.FacingBack, p.SwitchFacing())
	assert.Equal(t, types.FacingFront, p.SwitchFacing())

	p.SwitchFacing()
	p.SetOrientation(types.Landscape)

	det := types.Detection{Box: types.BoundingBox{Left: 100, Top: 100, Width: 200, Height: 200}}
	results, err := p.ProcessFrame(context.Background(), gradientFrame(480, 640, 90, nil), []types.Detection{det})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, overlay.Compute(det.Box, PlaceholderSurface, types.FacingBack, types.Landscape), results[0].Overlay)
}

func TestNewRejectsMismatchedInputSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputSize = 64
	_, err := New(cfg, embed.NewHashEngine(embed.DefaultInputSize, embed.DefaultDim), nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)
}
