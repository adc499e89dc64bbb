// Package hybrid implements C6: fusing C2 vector search with C5 BM25 search
// via Reciprocal Rank Fusion, following the teacher's
// internal/rag/retrieve/fusion.go FuseRRF/Diversify/FuseAndDiversify shape.
package hybrid

import (
	"context"
	"fmt"
	"sort"

	"ragcore/internal/bm25"
	"ragcore/internal/embedclient"
	"ragcore/internal/vectorstore"
)

// DefaultK is k_rrf's default (spec §4.6 step 3).
const DefaultK = 60

// Doc is one fused retrieval result, carrying both component scores for
// diagnostics alongside the fused score used for ranking.
type Doc struct {
	ID          string
	Payload     vectorstore.Payload
	Score       float64 // fused RRF score, or the raw vector score on degrade
	VectorScore float64
	BM25Score   float64
}

// Options configures one hybrid_search call. WVec/WBM25 are accepted and
// carried for future weighting but do not affect the RRF computation itself
// (spec §4.6: "currently informational").
type Options struct {
	TopK           int
	ScoreThreshold float64
	WVec           float64
	WBM25          float64
	KRRF           int
}

func (o Options) krrf() int {
	if o.KRRF > 0 {
		return o.KRRF
	}
	return DefaultK
}

// Engine performs hybrid_search by combining an Embedder, a VectorStore, and
// a per-collection BM25 cache.
type Engine struct {
	embedder embedclient.Embedder
	vectors  vectorstore.VectorStore
	bm25     *bm25.Cache
}

func New(embedder embedclient.Embedder, vectors vectorstore.VectorStore, bm25Cache *bm25.Cache) *Engine {
	return &Engine{embedder: embedder, vectors: vectors, bm25: bm25Cache}
}

// Search runs hybrid_search(collection, query_text, top_k, ...). It embeds
// queryText itself so callers need not pre-compute a query vector.
func (e *Engine) Search(ctx context.Context, collection, queryText string, opts Options) ([]Doc, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	fetch := topK * 3

	vecs, err := e.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("hybrid: embed query: %w", err)
	}

	vectorHits, err := e.vectors.Search(ctx, collection, vecs[0], fetch, opts.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("hybrid: vector search: %w", err)
	}

	bm25Hits, err := e.bm25.Search(ctx, collection, queryText, fetch)
	if err != nil {
		return nil, fmt.Errorf("hybrid: bm25 search: %w", err)
	}

	if len(bm25Hits) == 0 {
		// Degrade gracefully: return the vector top-k as-is (spec §4.6 step 5).
		out := make([]Doc, 0, topK)
		for _, h := range vectorHits {
			if len(out) >= topK {
				break
			}
			out = append(out, Doc{ID: h.ID, Payload: h.Payload, Score: h.Score, VectorScore: h.Score})
		}
		return out, nil
	}

	fused := fuseRRF(vectorHits, bm25Hits, opts.krrf())

	for i, d := range fused {
		if d.Payload == nil {
			if text, ok := e.bm25.Text(collection, d.ID); ok {
				fused[i].Payload = vectorstore.Payload{"text": text}
			}
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// fuseRRF implements spec §4.6 steps 3-4: accumulate 1/(k+rank_i) per list,
// carry the component scores, sort by the fused score descending. Ties break
// by ID for determinism (the teacher's FuseRRF does the same).
func fuseRRF(vectorHits []vectorstore.Hit, bm25Hits []bm25.Scored, k int) []Doc {
	docs := map[string]*Doc{}
	order := []string{}

	get := func(id string) *Doc {
		d, ok := docs[id]
		if !ok {
			d = &Doc{ID: id}
			docs[id] = d
			order = append(order, id)
		}
		return d
	}

	for i, h := range vectorHits {
		d := get(h.ID)
		d.Payload = h.Payload
		d.VectorScore = h.Score
		d.Score += 1.0 / float64(k+i+1)
	}
	for i, s := range bm25Hits {
		d := get(s.ID)
		d.BM25Score = s.Score
		d.Score += 1.0 / float64(k+i+1)
	}

	out := make([]Doc, 0, len(order))
	for _, id := range order {
		out = append(out, *docs[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
