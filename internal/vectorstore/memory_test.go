package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_UpsertThenScroll_SetEqualityAndPayload(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	pts := []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: Payload{"text": "alpha"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: Payload{"text": "beta"}},
	}
	require.NoError(t, m.Upsert(ctx, "col", pts))

	hits, next, err := m.Scroll(ctx, "col", 10, "", nil)
	require.NoError(t, err)
	assert.Empty(t, next)
	ids := map[string]string{}
	for _, h := range hits {
		ids[h.ID] = h.Payload["text"].(string)
	}
	assert.Equal(t, map[string]string{"a": "alpha", "b": "beta"}, ids)
}

func TestMemory_Search_ScoreThresholdPrunes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
	}))
	hits, err := m.Search(ctx, "col", []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Score, 0.5)
}

func TestMemory_Search_RespectsLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0.9, 0.1}},
		{ID: "c", Vector: []float32{0.8, 0.2}},
	}))
	hits, err := m.Search(ctx, "col", []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
