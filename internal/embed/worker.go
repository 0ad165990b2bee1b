package embed

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/worker"
)

type communicator interface {
	Communicate(data []byte) ([]byte, error)
	Close()
}

// WorkerEngine delegates inference to a model-serving child process.
// Request: [size u32][size*size*3 f32]; reply: [dim u32][dim f32].
type WorkerEngine struct {
	w    communicator
	size int
	dim  int
}

// NewWorkerEngine starts script with the model path. Start-up failure is fatal.
func NewWorkerEngine(script, modelPath string, size, dim int) (*WorkerEngine, error) {
	pw, err := worker.NewPythonWorker(0, script, "--model", modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return &WorkerEngine{w: pw, size: size, dim: dim}, nil
}

func (e *WorkerEngine) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	if err := checkPatch(p, e.size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := make([]byte, 0, 4+len(p.Data)*4)
	req = binary.BigEndian.AppendUint32(req, uint32(p.Size))
	for _, v := range p.Data {
		req = binary.BigEndian.AppendUint32(req, math.Float32bits(v))
	}

	resp, err := e.w.Communicate(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	r := bytes.NewReader(resp)
	var dim uint32
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: reply header: %v", ErrInference, err)
	}
	if int(dim) != e.dim {
		return nil, fmt.Errorf("%w: model returned %d values, want %d", ErrInference, dim, e.dim)
	}
	emb := make(types.Embedding, dim)
	if err := binary.Read(r, binary.BigEndian, []float32(emb)); err != nil {
		return nil, fmt.Errorf("%w: reply body: %v", ErrInference, err)
	}
	return emb, nil
}

func (e *WorkerEngine) InputSize() int { return e.size }
func (e *WorkerEngine) Dim() int       { return e.dim }

func (e *WorkerEngine) Close() error {
	e.w.Close()
	return nil
}
