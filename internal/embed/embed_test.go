package embed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/match"
	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformPatch(size int, v float32) *patch.Patch {
	data := make([]float32, size*size*3)
	for i := range data {
		data[i] = v
	}
	return &patch.Patch{Size: size, Data: data}
}

func TestHashEngineIsDeterministic(t *testing.T) {
	e := NewHashEngine(DefaultInputSize, DefaultDim)
	ctx := context.Background()

	a, err := e.Embed(ctx, uniformPatch(DefaultInputSize, 0.5))
	require.NoError(t, err)
	b, err := e.Embed(ctx, uniformPatch(DefaultInputSize, 0.5))
	require.NoError(t, err)
	c, err := e.Embed(ctx, uniformPatch(DefaultInputSize, 0.25))
	require.NoError(t, err)

	assert.Len(t, a, DefaultDim)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, match.CosineSimilarity(a, b), 1e-6)
	assert.NotEqual(t, a, c)
}

func TestHashEngineRejectsWrongShape(t *testing.T) {
	e := NewHashEngine(DefaultInputSize, DefaultDim)
	_, err := e.Embed(context.Background(), uniformPatch(64, 0.5))
	assert.ErrorIs(t, err, ErrInference)

	_, err = e.Embed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInference)
}

// blockingEngine holds each inference until release is closed.
type blockingEngine struct {
	*HashEngine
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEngine) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.HashEngine.Embed(ctx, p)
}

func TestSerialAllowsOneInferenceInFlight(t *testing.T) {
	eng := &blockingEngine{
		HashEngine: NewHashEngine(4, 8),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := NewSerial(eng)
	ctx := context.Background()

	fut, err := s.Submit(ctx, uniformPatch(4, 0.1))
	require.NoError(t, err)
	<-eng.started

	_, err = s.Embed(ctx, uniformPatch(4, 0.2))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Submit(ctx, uniformPatch(4, 0.2))
	assert.ErrorIs(t, err, ErrBusy)

	close(eng.release)
	emb, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, emb, 8)

	// Slot is free again once the first inference finished.
	emb, err = s.Embed(ctx, uniformPatch(4, 0.2))
	require.NoError(t, err)
	assert.Len(t, emb, 8)
}

func TestSerialEmbedWaitQueues(t *testing.T) {
	eng := &blockingEngine{
		HashEngine: NewHashEngine(4, 8),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := NewSerial(eng)
	ctx := context.Background()

	fut, err := s.Submit(ctx, uniformPatch(4, 0.1))
	require.NoError(t, err)
	<-eng.started

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.EmbedWait(timeout, uniformPatch(4, 0.3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(eng.release)
	_, err = fut.Wait(ctx)
	require.NoError(t, err)

	_, err = s.EmbedWait(ctx, uniformPatch(4, 0.3))
	assert.NoError(t, err)
}

type badDimEngine struct{ *HashEngine }

func (b badDimEngine) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	return types.Embedding{1, 2, 3}, nil
}

func TestSerialWrapsEngineFailures(t *testing.T) {
	s := NewSerial(badDimEngine{NewHashEngine(4, 8)})
	_, err := s.Embed(context.Background(), uniformPatch(4, 0.1))
	assert.ErrorIs(t, err, ErrInference)
}

type mockComm struct {
	sent  []byte
	reply []byte
	err   error
}

func (m *mockComm) Communicate(data []byte) ([]byte, error) {
	m.sent = append([]byte(nil), data...)
	return m.reply, m.err
}
func (m *mockComm) Close() {}

func TestWorkerEngine(t *testing.T) {
	reply := new(bytes.Buffer)
	binary.Write(reply, binary.BigEndian, uint32(3))
	binary.Write(reply, binary.BigEndian, []float32{0.5, -0.25, 1})

	comm := &mockComm{reply: reply.Bytes()}
	e := &WorkerEngine{w: comm, size: 2, dim: 3}

	emb, err := e.Embed(context.Background(), uniformPatch(2, 0.75))
	require.NoError(t, err)
	assert.Equal(t, types.Embedding{0.5, -0.25, 1}, emb)

	// [size u32] + 2*2*3 floats
	assert.Len(t, comm.sent, 4+12*4)
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(comm.sent[:4]))
	for off := 4; off < len(comm.sent); off += 4 {
		assert.Equal(t, float32(0.75), math.Float32frombits(binary.BigEndian.Uint32(comm.sent[off:off+4])))
	}
}

func TestWorkerEngineErrors(t *testing.T) {
	comm := &mockComm{err: errors.New("broken pipe")}
	e := &WorkerEngine{w: comm, size: 2, dim: 3}
	_, err := e.Embed(context.Background(), uniformPatch(2, 0.75))
	assert.ErrorIs(t, err, ErrInference)

	reply := new(bytes.Buffer)
	binary.Write(reply, binary.BigEndian, uint32(5))
	comm = &mockComm{reply: reply.Bytes()}
	e = &WorkerEngine{w: comm, size: 2, dim: 3}
	_, err = e.Embed(context.Background(), uniformPatch(2, 0.75))
	assert.ErrorIs(t, err, ErrInference)
}

func TestFillInputLayouts(t *testing.T) {
	p := &patch.Patch{Size: 1, Data: []float32{0.1, 0.2, 0.3}}
	dst := make([]float32, 3)
	fillInput(dst, p, NCHW)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, dst)

	p = &patch.Patch{Size: 2, Data: []float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}}
	dst = make([]float32, 12)
	fillInput(dst, p, NCHW)
	assert.Equal(t, []float32{1, 4, 7, 10, 2, 5, 8, 11, 3, 6, 9, 12}, dst)

	fillInput(dst, p, NHWC)
	assert.Equal(t, p.Data, dst)
}

func TestNewOnnxEngineMissingModel(t *testing.T) {
	_, err := NewOnnxEngine(OnnxConfig{ModelPath: "/nonexistent/model.onnx", InputSize: 112, Dim: 192})
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("nchw")
	require.NoError(t, err)
	assert.Equal(t, NCHW, l)
	_, err = ParseLayout("CHW")
	assert.Error(t, err)
}
