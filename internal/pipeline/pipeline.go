// Package pipeline drives one analyzed frame through decode, normalization,
// patch extraction, embedding and matching, and computes the overlay for each face.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andresmejia3/facegate/internal/embed"
	"github.com/andresmejia3/facegate/internal/frame"
	"github.com/andresmejia3/facegate/internal/geometry"
	"github.com/andresmejia3/facegate/internal/match"
	"github.com/andresmejia3/facegate/internal/overlay"
	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
)

// DefaultMinFaceWidth drops detector noise: boxes this narrow or narrower are ignored.
const DefaultMinFaceWidth = 10

// PlaceholderSurface is the preview size assumed until a real frame reports its own.
var PlaceholderSurface = types.Size{W: 480, H: 640}

type Config struct {
	InputSize    int
	MinFaceWidth int
	DecodeMode   frame.Mode
	Facing       types.Facing
	Orientation  types.Orientation
}

func DefaultConfig() Config {
	return Config{
		InputSize:    embed.DefaultInputSize,
		MinFaceWidth: DefaultMinFaceWidth,
		DecodeMode:   frame.ModeDirect,
		Facing:       types.FacingFront,
		Orientation:  types.Portrait,
	}
}

// FaceResult is everything produced for one retained detection.
type FaceResult struct {
	Detection types.Detection   `json:"detection"`
	Box       types.BoundingBox `json:"box"` // in the upright image
	Overlay   overlay.Geometry  `json:"overlay"`
	Embedding types.Embedding   `json:"-"`
	// Score is nil when no reference is captured or inference was skipped.
	Score *match.Result `json:"score,omitempty"`
}

// Pipeline is safe for use from one analysis goroutine while other goroutines
// read the surface state or flip facing/orientation.
type Pipeline struct {
	cfg    Config
	engine *embed.Serial
	state  *match.State
	logger *slog.Logger

	mu          sync.RWMutex
	surface     types.Size
	facing      types.Facing
	orientation types.Orientation
}

// New wraps engine for single in-flight inference unless it already is.
func New(cfg Config, engine embed.Engine, state *match.State, logger *slog.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("pipeline: nil embedding engine")
	}
	if state == nil {
		state = match.NewState(match.DefaultThresholdPercent)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = engine.InputSize()
	}
	if cfg.InputSize != engine.InputSize() {
		return nil, fmt.Errorf("pipeline: input size %d does not match engine input size %d", cfg.InputSize, engine.InputSize())
	}

	serial, ok := engine.(*embed.Serial)
	if !ok {
		serial = embed.NewSerial(engine)
	}

	return &Pipeline{
		cfg:         cfg,
		engine:      serial,
		state:       state,
		logger:      logger,
		surface:     PlaceholderSurface,
		facing:      cfg.Facing,
		orientation: cfg.Orientation,
	}, nil
}

func (p *Pipeline) State() *match.State { return p.state }

// SurfaceSize is the preview surface size used for overlays.
func (p *Pipeline) SurfaceSize() types.Size {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.surface
}

// SwitchFacing toggles between the front and back camera and returns the new facing.
func (p *Pipeline) SwitchFacing() types.Facing {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.facing == types.FacingFront {
		p.facing = types.FacingBack
	} else {
		p.facing = types.FacingFront
	}
	return p.facing
}

func (p *Pipeline) Facing() types.Facing {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.facing
}

func (p *Pipeline) SetOrientation(o types.Orientation) {
	p.mu.Lock()
	p.orientation = o
	p.mu.Unlock()
}

// trackSurface adopts the frame's size, transposed, once the camera delivers
// something other than the placeholder resolution.
func (p *Pipeline) trackSurface(f types.Frame) {
	if f.Width == int(PlaceholderSurface.W) || f.Height == int(PlaceholderSurface.H) {
		return
	}
	p.mu.Lock()
	p.surface = types.Size{W: float64(f.Height), H: float64(f.Width)}
	p.mu.Unlock()
}

func (p *Pipeline) view() (types.Size, types.Facing, types.Orientation) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.surface, p.facing, p.orientation
}

// ProcessFrame runs every usable detection in f through the pipeline. The frame is
// released before returning on every path. Per-face failures are logged and the
// face is left out of the result; only a dimension mismatch aborts the frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, f types.Frame, detections []types.Detection) ([]FaceResult, error) {
	defer f.Release()

	p.trackSurface(f)

	faces := p.filter(detections)
	if len(faces) == 0 {
		return nil, nil
	}

	img, err := frame.Decode(f, p.cfg.DecodeMode)
	if err != nil {
		p.logger.Warn("Dropping frame", "err", err, "width", f.Width, "height", f.Height)
		return nil, err
	}
	upright, err := geometry.Correct(img, f.Rotation)
	if err != nil {
		p.logger.Warn("Dropping frame", "err", err, "rotation", f.Rotation)
		return nil, err
	}

	surface, facing, orientation := p.view()
	results := make([]FaceResult, 0, len(faces))

	for i, det := range faces {
		res, err := p.processFace(ctx, upright, det)
		if err != nil {
			if errors.Is(err, match.ErrDimensionMismatch) {
				return results, err
			}
			p.logger.Debug("Skipping face", "face", i, "box", det.Box.String(), "err", err)
			continue
		}
		// Overlays are drawn from the upright box, which shares axes with the tracked surface.
		res.Overlay = overlay.Compute(res.Box, surface, facing, orientation)
		results = append(results, *res)
	}

	return results, nil
}

func (p *Pipeline) filter(detections []types.Detection) []types.Detection {
	out := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Box.Width <= p.cfg.MinFaceWidth {
			continue
		}
		out = append(out, d)
	}
	return out
}

// processFace extracts and scores one face. Inference failures (including a busy
// engine) keep the face with a nil score; extraction failures drop it.
func (p *Pipeline) processFace(ctx context.Context, upright *geometry.Corrected, det types.Detection) (*FaceResult, error) {
	box, err := upright.MapBox(det.Box)
	if err != nil {
		return nil, err
	}
	fp, err := patch.Extract(upright.Image, box, p.cfg.InputSize)
	if err != nil {
		return nil, err
	}

	res := &FaceResult{Detection: det, Box: box}

	emb, err := p.engine.Embed(ctx, fp)
	if err != nil {
		p.logger.Warn("Inference skipped", "box", box.String(), "err", err)
		return res, nil
	}
	res.Embedding = emb

	score, err := p.state.Score(emb)
	switch {
	case errors.Is(err, match.ErrNoReference):
	case err != nil:
		return nil, err
	default:
		res.Score = &score
	}
	return res, nil
}

// Enroll embeds the face at box and offers it to the matcher as the reference.
// It reports whether the reference slot was empty and now holds this embedding.
func (p *Pipeline) Enroll(ctx context.Context, f types.Frame, box types.BoundingBox) (bool, types.Embedding, error) {
	defer f.Release()

	img, err := frame.Decode(f, p.cfg.DecodeMode)
	if err != nil {
		return false, nil, err
	}
	normalized, mapped, err := geometry.Normalize(img, f.Rotation, box)
	if err != nil {
		return false, nil, err
	}
	fp, err := patch.Extract(normalized, mapped, p.cfg.InputSize)
	if err != nil {
		return false, nil, err
	}
	emb, err := p.engine.EmbedWait(ctx, fp)
	if err != nil {
		return false, nil, err
	}

	stored := p.state.CaptureReference(emb)
	p.logger.Info("Reference offered", "stored", stored, "dim", len(emb))
	return stored, emb, nil
}

// Verify embeds the face at box and scores it against the captured reference.
func (p *Pipeline) Verify(ctx context.Context, f types.Frame, box types.BoundingBox) (match.Result, error) {
	defer f.Release()

	img, err := frame.Decode(f, p.cfg.DecodeMode)
	if err != nil {
		return match.Result{}, err
	}
	normalized, mapped, err := geometry.Normalize(img, f.Rotation, box)
	if err != nil {
		return match.Result{}, err
	}
	fp, err := patch.Extract(normalized, mapped, p.cfg.InputSize)
	if err != nil {
		return match.Result{}, err
	}
	emb, err := p.engine.EmbedWait(ctx, fp)
	if err != nil {
		return match.Result{}, err
	}
	return p.state.Score(emb)
}
