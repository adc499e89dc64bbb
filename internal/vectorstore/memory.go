package vectorstore

import (
	"context"
	"sort"
)

// VectorStore is the narrow interface C6/C9 depend on, letting tests
// substitute an in-memory fake instead of a live Qdrant deployment.
type VectorStore interface {
	Search(ctx context.Context, name string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error)
	Scroll(ctx context.Context, name string, limit int, offset string, fields []string) ([]Hit, string, error)
	Upsert(ctx context.Context, name string, points []Point) error
}

var _ VectorStore = (*Store)(nil)

// Memory is a deterministic, in-process VectorStore used in tests, mirroring
// the teacher's memory fallback in internal/persistence/databases. No server
// configuration selects it; cmd/ragserver always uses the Qdrant Store.
type Memory struct {
	points map[string][]Point
}

// NewMemory builds an empty in-memory vector store.
func NewMemory() *Memory {
	return &Memory{points: map[string][]Point{}}
}

func (m *Memory) Upsert(_ context.Context, name string, points []Point) error {
	existing := m.points[name]
	for _, p := range points {
		replaced := false
		for i, e := range existing {
			if e.ID == p.ID {
				existing[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, p)
		}
	}
	m.points[name] = existing
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return sqrt(dot(a, a))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 32; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func cosine(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}

func (m *Memory) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	var hits []Hit
	for _, p := range m.points[name] {
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Scroll(_ context.Context, name string, limit int, offset string, _ []string) ([]Hit, string, error) {
	all := m.points[name]
	start := 0
	if offset != "" {
		for i, p := range all {
			if p.ID == offset {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]Hit, 0, end-start)
	for _, p := range all[start:end] {
		out = append(out, Hit{ID: p.ID, Payload: p.Payload})
	}
	next := ""
	if end < len(all) {
		next = all[end-1].ID
	}
	return out, next, nil
}

var _ VectorStore = (*Memory)(nil)
