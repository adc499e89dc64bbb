package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/config"
)

func TestClient_Rerank_SortsByRelevanceDescending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 0, "relevance_score": 0.2},
				{"index": 1, "relevance_score": 0.9},
				{"index": 2, "relevance_score": 0.5},
			},
		})
	}))
	defer srv.Close()

	c := New(config.RerankerConfig{URL: srv.URL, Timeout: 5 * time.Second})
	results, err := c.Rerank(context.Background(), "q", []Document{"a", "b", "c"}, 0, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
	assert.Equal(t, 0, results[2].Index)
}

func TestClient_RerankWithFallback_SwallowsErrorsAndReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.RerankerConfig{URL: srv.URL, Timeout: 5 * time.Second})
	results := c.RerankWithFallback(context.Background(), "q", []Document{"a"}, 0, false)
	assert.Nil(t, results)
}
