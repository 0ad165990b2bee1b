package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
	ort "github.com/yalue/onnxruntime_go"
)

// Layout is the tensor memory order the model expects.
type Layout int

const (
	NHWC Layout = iota
	NCHW
)

// ParseLayout maps a config string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NHWC":
		return NHWC, nil
	case "NCHW":
		return NCHW, nil
	}
	return NHWC, fmt.Errorf("unknown tensor layout %q (use NHWC or NCHW)", s)
}

// OnnxConfig describes the embedding model file and its IO.
type OnnxConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the runtime default
	InputName   string
	OutputName  string
	InputSize   int
	Dim         int
	Layout      Layout
}

// OnnxEngine runs the embedding model with onnxruntime. Tensors are allocated once
// and reused, so Embed must not be called concurrently; wrap it in Serial.
type OnnxEngine struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	cfg     OnnxConfig
}

var ortInit sync.Once
var ortInitErr error

// NewOnnxEngine loads the model. Any failure here is fatal for the process.
func NewOnnxEngine(cfg OnnxConfig) (*OnnxEngine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	ortInit.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("%w: init onnxruntime: %v", ErrModelLoad, ortInitErr)
	}

	s := int64(cfg.InputSize)
	shape := ort.NewShape(1, s, s, 3)
	if cfg.Layout == NCHW {
		shape = ort.NewShape(1, 3, s, s)
	}
	input, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", ErrModelLoad, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("%w: create output tensor: %v", ErrModelLoad, err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("%w: create session: %v", ErrModelLoad, err)
	}

	return &OnnxEngine{session: session, input: input, output: output, cfg: cfg}, nil
}

func (e *OnnxEngine) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	if err := checkPatch(p, e.cfg.InputSize); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fillInput(e.input.GetData(), p, e.cfg.Layout)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	out := e.output.GetData()
	emb := make(types.Embedding, e.cfg.Dim)
	copy(emb, out)
	return emb, nil
}

// fillInput copies the HWC patch into dst in the requested layout.
func fillInput(dst []float32, p *patch.Patch, layout Layout) {
	if layout == NHWC {
		copy(dst, p.Data)
		return
	}
	plane := p.Size * p.Size
	for i := 0; i < plane; i++ {
		dst[i] = p.Data[i*3]
		dst[plane+i] = p.Data[i*3+1]
		dst[2*plane+i] = p.Data[i*3+2]
	}
}

func (e *OnnxEngine) InputSize() int { return e.cfg.InputSize }
func (e *OnnxEngine) Dim() int       { return e.cfg.Dim }

func (e *OnnxEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
	return nil
}
