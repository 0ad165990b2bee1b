package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/andresmejia3/facegate/internal/patch"
	"github.com/andresmejia3/facegate/internal/types"
)

// HashEngine derives a deterministic unit-length embedding from the patch bytes.
// Identical patches give identical vectors; it stands in for a model in tests and dry runs.
type HashEngine struct {
	size int
	dim  int
}

func NewHashEngine(size, dim int) *HashEngine {
	return &HashEngine{size: size, dim: dim}
}

func (e *HashEngine) Embed(ctx context.Context, p *patch.Patch) (types.Embedding, error) {
	if err := checkPatch(p, e.size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := sha256.New()
	var buf [4]byte
	for _, v := range p.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	sum := h.Sum(nil)

	emb := make(types.Embedding, e.dim)
	var norm float64
	for i := range emb {
		v := (float64(sum[i%len(sum)])/255.0)*2 - 1
		// Vary values across repeats of the hash so long embeddings aren't periodic.
		v += float64(i/len(sum)) * 1e-3
		emb[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range emb {
			emb[i] /= n
		}
	}
	return emb, nil
}

func (e *HashEngine) InputSize() int { return e.size }
func (e *HashEngine) Dim() int       { return e.dim }
func (e *HashEngine) Close() error   { return nil }
