package embedclient

import (
	"context"
	"hash/fnv"
)

// Deterministic is a test double producing reproducible, content-derived
// vectors without a network round trip, following the teacher's pattern of
// a fake embedder for tests that exercise retrieval without a live server.
type Deterministic struct {
	Dim int
}

// NewDeterministic builds a fake embedder with the given vector dimension.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 8
	}
	return &Deterministic{Dim: dim}
}

func (d *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t, d.Dim)
	}
	return out, nil
}

func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>40)%1000) / 1000.0
	}
	return v
}

var _ Embedder = (*Deterministic)(nil)
