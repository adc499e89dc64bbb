package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/bm25"
	"ragcore/internal/vectorstore"
)

func TestFuseRRF_ScenarioA(t *testing.T) {
	vectorHits := []vectorstore.Hit{
		{ID: "v1", Score: 0.9},
		{ID: "v2", Score: 0.8},
		{ID: "v3", Score: 0.7},
	}
	bm25Hits := []bm25.Scored{
		{ID: "v3", Score: 5.0},
		{ID: "v4", Score: 4.0},
		{ID: "v1", Score: 3.0},
	}

	fused := fuseRRF(vectorHits, bm25Hits, 60)
	require.Len(t, fused, 4)

	byID := map[string]Doc{}
	for _, d := range fused {
		byID[d.ID] = d
	}
	assert.InDelta(t, 1.0/61+1.0/63, byID["v1"].Score, 1e-9)
	assert.InDelta(t, 1.0/62, byID["v2"].Score, 1e-9)
	assert.InDelta(t, 1.0/63+1.0/61, byID["v3"].Score, 1e-9)
	assert.InDelta(t, 1.0/62, byID["v4"].Score, 1e-9)

	ids := make([]string, len(fused))
	for i, d := range fused {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"v1", "v3", "v2", "v4"}, ids)

	top3 := fused[:3]
	top3IDs := make([]string, 3)
	for i, d := range top3 {
		top3IDs[i] = d.ID
	}
	assert.Equal(t, []string{"v1", "v3", "v2"}, top3IDs)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestEngine_Search_DegradesToVectorOnlyWhenBM25Empty(t *testing.T) {
	store := vectorstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "col", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: vectorstore.Payload{"text": ""}},
	}))

	cache := bm25.NewCache(store)
	eng := New(fakeEmbedder{}, store, cache)

	docs, err := eng.Search(ctx, "col", "anything", Options{TopK: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}
