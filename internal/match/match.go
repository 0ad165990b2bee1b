// Package match holds the reference embedding of a matching session and scores
// query embeddings against it.
package match

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/andresmejia3/facegate/internal/types"
)

// DefaultThresholdPercent is the similarity percentage at or above which two faces match.
const DefaultThresholdPercent = 90

var (
	// ErrNoReference is returned by Score before any reference has been captured.
	ErrNoReference = errors.New("no reference embedding available")
	// ErrDimensionMismatch means query and reference come from different models.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Result is a single comparison against the reference.
type Result struct {
	Similarity float64 `json:"similarity"`
	Percent    int     `json:"percent"`
	Match      bool    `json:"match"`
}

// State is the single-slot reference store. Capture is first-write-wins: once a
// reference is held, later captures are ignored until Reset. Safe for concurrent use.
type State struct {
	mu               sync.RWMutex
	reference        types.Embedding
	thresholdPercent float64
}

// NewState returns an empty matcher with the given threshold (percent, 0-100].
func NewState(thresholdPercent float64) *State {
	return &State{thresholdPercent: thresholdPercent}
}

// CaptureReference stores v if no reference is held. It reports whether v was stored;
// an empty v is never stored.
func (s *State) CaptureReference(v types.Embedding) bool {
	if len(v) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reference != nil {
		return false
	}
	s.reference = append(types.Embedding(nil), v...)
	return true
}

// Reset drops the reference.
func (s *State) Reset() {
	s.mu.Lock()
	s.reference = nil
	s.mu.Unlock()
}

func (s *State) HasReference() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reference != nil
}

// Reference returns a copy of the held reference, or nil.
func (s *State) Reference() types.Embedding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reference == nil {
		return nil
	}
	return append(types.Embedding(nil), s.reference...)
}

func (s *State) ThresholdPercent() float64 { return s.thresholdPercent }

// Score compares v against the reference.
func (s *State) Score(v types.Embedding) (Result, error) {
	s.mu.RLock()
	ref := s.reference
	s.mu.RUnlock()

	if ref == nil {
		return Result{}, ErrNoReference
	}
	if len(ref) != len(v) {
		return Result{}, fmt.Errorf("%w: reference has %d, query has %d", ErrDimensionMismatch, len(ref), len(v))
	}

	sim := CosineSimilarity(ref, v)
	return Result{
		Similarity: sim,
		Percent:    Percent(sim),
		Match:      sim*100 >= s.thresholdPercent,
	}, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 if either vector has zero norm.
// Accumulation is done in float64; callers must pass equal-length vectors.
func CosineSimilarity(a, b types.Embedding) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Percent converts a similarity to the nearest integer percentage, clamped to 0-100.
func Percent(similarity float64) int {
	p := int(math.Round(similarity * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
