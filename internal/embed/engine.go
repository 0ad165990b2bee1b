// Package embed runs face patches through an embedding model.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultInputSize is the square input resolution of MobileFaceNet.
	DefaultInputSize = 112
	// DefaultDim is the MobileFaceNet embedding length.
	DefaultDim = 192
	// DefaultModelName is the bundled model file loaded at startup.
	DefaultModelName = "mobile_face_net.onnx"
)

var (
	// ErrInference is returned when the model cannot be invoked or returns garbage.
	ErrInference = errors.New("inference failed")
	// ErrModelLoad is fatal: the engine cannot be constructed without its model.
	ErrModelLoad = errors.New("embedding model could not be loaded")
	// ErrBusy is returned by Serial when an inference is already in flight.
	ErrBusy = errors.New("embedding engine busy")
)

// Engine maps a FacePatch to a fixed-length embedding.
type Engine interface {
	Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error)
	InputSize() int
	Dim() int
	Close() error
}

// checkPatch verifies the patch shape matches what the engine was built for.
func checkPatch(p *patch.Patch, size int) error {
	if p == nil {
		return fmt.Errorf("%w: nil patch", ErrInference)
	}
	if p.Size != size || len(p.Data) != size*size*3 {
		return fmt.Errorf("%w: patch is %dx%d (%d values), model wants %dx%d", ErrInference, p.Size, p.Size, len(p.Data), size, size)
	}
	return nil
}

// Future is the pending result of one inference.
type Future struct {
	done chan struct{}
	emb  types.Embedding
	err  error
}

// Wait blocks until the inference finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (types.Embedding, error) {
	select {
	case <-f.done:
		return f.emb, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serial guards an Engine so at most one inference runs at a time.
// Submit and Embed drop the request with ErrBusy while another is in flight.
type Serial struct {
	engine Engine
	sem    *semaphore.Weighted
}

func NewSerial(engine Engine) *Serial {
	return &Serial{engine: engine, sem: semaphore.NewWeighted(1)}
}

// Submit starts an inference in the background and returns its Future.
func (s *Serial) Submit(ctx context.Context, p *patch.Patch) (*Future, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer s.sem.Release(1)
		f.emb, f.err = s.run(ctx, p)
	}()
	return f, nil
}

// Embed runs one inference synchronously, or returns ErrBusy.
func (s *Serial) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer s.sem.Release(1)
	return s.run(ctx, p)
}

// EmbedWait queues behind any in-flight inference instead of dropping.
func (s *Serial) EmbedWait(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.run(ctx, p)
}

func (s *Serial) run(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	emb, err := s.engine.Embed(ctx, p)
	if err != nil {
		if !errors.Is(err, ErrInference) {
			err = fmt.Errorf("%w: %v", ErrInference, err)
		}
		return nil, err
	}
	if len(emb) != s.engine.Dim() {
		return nil, fmt.Errorf("%w: model returned %d values, want %d", ErrInference, len(emb), s.engine.Dim())
	}
	return emb, nil
}

func (s *Serial) InputSize() int { return s.engine.InputSize() }
func (s *Serial) Dim() int       { return s.engine.Dim() }
func (s *Serial) Close() error   { return s.engine.Close() }
