// Package rag implements C9: the end-to-end RAG orchestrator tying together
// C1 (via C6/C2), C3, C4, C7, and C8, following the teacher's rag.go /
// sefii.go handler shapes generalized into a transport-agnostic service, and
// completions.go's SSE forwarding pattern for chat_stream.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ragcore/internal/citations"
	"ragcore/internal/config"
	"ragcore/internal/embedclient"
	"ragcore/internal/hybrid"
	"ragcore/internal/llmclient"
	"ragcore/internal/metrics"
	"ragcore/internal/promptloader"
	"ragcore/internal/reranker"
	"ragcore/internal/vectorstore"
)

// Doc is one retrieved document as it flows through the pipeline, gaining
// fields at each stage (spec §3 "Retrieved document").
type Doc struct {
	ID              string
	Score           float64
	Payload         vectorstore.Payload
	SourceCollection string
	VectorScore     float64
	BM25Score       float64
	Keywords        []string
	CitedPhrases    []string
}

func (d Doc) text() string {
	if t, ok := d.Payload["text"].(string); ok {
		return t
	}
	return ""
}

func (d Doc) filename() string {
	if f, ok := d.Payload["filename"].(string); ok {
		return f
	}
	return ""
}

func (d Doc) headings() []string {
	switch raw := d.Payload["headings"].(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, h := range raw {
			if s, ok := h.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

const noDocsMessage = "관련된 문서를 찾을 수 없습니다."

// Params mirrors spec §4.9.1's chat() input.
type Params struct {
	CollectionName     string
	TempCollectionName string
	Query              string
	ModelKey           string
	ReasoningLevel     string
	SamplingParams     llmclient.Params
	TopK               int
	ScoreThreshold     float64
	ChatHistory        []llmclient.Message
	UseReranking       bool
	UseHybrid          bool
}

// Answer is chat()'s return value.
type Answer struct {
	Content          string
	ReasoningContent string
	Usage            llmclient.Usage
	RetrievedDocs    []Doc
}

// Retriever abstracts vector-only vs hybrid retrieval so Orchestrator can
// call either path per UseHybrid (spec §4.9.1 step 3).
type Retriever interface {
	Search(ctx context.Context, collection, query string, opts hybrid.Options) ([]hybrid.Doc, error)
}

// VectorOnly adapts a plain vectorstore.VectorStore + embedder into the
// Retriever interface for the use_hybrid=false path.
type VectorOnly struct {
	Store    vectorstore.VectorStore
	Embedder embedclient.Embedder
}

func (v VectorOnly) Search(ctx context.Context, collection, query string, opts hybrid.Options) ([]hybrid.Doc, error) {
	vecs, err := v.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	hits, err := v.Store.Search(ctx, collection, vecs[0], opts.TopK, opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	out := make([]hybrid.Doc, 0, len(hits))
	for _, h := range hits {
		out = append(out, hybrid.Doc{ID: h.ID, Payload: h.Payload, Score: h.Score, VectorScore: h.Score})
	}
	return out, nil
}

// Orchestrator wires every C9 dependency.
type Orchestrator struct {
	Hybrid      Retriever
	VectorOnly  Retriever
	Reranker    *reranker.Client
	LLM         *llmclient.Client
	Prompts     *promptloader.Loader
	Rerank      config.RerankPolicy
	CiteEnabled bool
}

func (o *Orchestrator) retriever(useHybrid bool) Retriever {
	if useHybrid && o.Hybrid != nil {
		return o.Hybrid
	}
	return o.VectorOnly
}

// Chat implements spec §4.9.1.
func (o *Orchestrator) Chat(ctx context.Context, p Params) (Answer, error) {
	start := time.Now()
	targets := targetCollections(p)

	if len(targets) == 0 {
		answer, err := o.casualChat(ctx, p)
		metrics.TurnDuration(ctx, "casual", float64(time.Since(start).Milliseconds()))
		return answer, err
	}

	initialK := p.TopK
	if o.Rerank.Enabled && p.UseReranking {
		mult := o.Rerank.TopKMultiplier
		if mult <= 0 {
			mult = 3
		}
		initialK = p.TopK * mult
	}

	docs, err := o.retrieve(ctx, targets, p, initialK)
	if err != nil {
		return Answer{}, err
	}

	if len(docs) == 0 {
		return Answer{Content: noDocsMessage}, nil
	}

	if o.Rerank.Enabled && p.UseReranking && o.Reranker != nil {
		docs = o.rerank(ctx, p.Query, docs, p.TopK)
	}
	if len(docs) > p.TopK {
		docs = docs[:p.TopK]
	}

	if o.CiteEnabled {
		o.attachKeywords(p.Query, docs)
	}

	messages := o.buildMessages(p, docs)
	result, err := o.LLM.Chat(ctx, p.ModelKey, messages, p.SamplingParams)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: chat completion: %w", err)
	}

	metrics.TokenUsage(ctx, p.ModelKey, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	metrics.RetrievedDocCount(ctx, len(docs))
	metrics.TurnDuration(ctx, "retrieval", float64(time.Since(start).Milliseconds()))

	return Answer{
		Content:          result.Content,
		ReasoningContent: result.ReasoningContent,
		Usage:            result.Usage,
		RetrievedDocs:    docs,
	}, nil
}

func (o *Orchestrator) casualChat(ctx context.Context, p Params) (Answer, error) {
	messages := o.buildMessages(p, nil)
	result, err := o.LLM.Chat(ctx, p.ModelKey, messages, p.SamplingParams)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: casual chat completion: %w", err)
	}
	metrics.TokenUsage(ctx, p.ModelKey, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return Answer{Content: result.Content, ReasoningContent: result.ReasoningContent, Usage: result.Usage}, nil
}

func targetCollections(p Params) []string {
	var out []string
	if p.CollectionName != "" {
		out = append(out, p.CollectionName)
	}
	if p.TempCollectionName != "" {
		out = append(out, p.TempCollectionName)
	}
	return out
}

func (o *Orchestrator) retrieve(ctx context.Context, targets []string, p Params, initialK int) ([]Doc, error) {
	opts := hybrid.Options{TopK: initialK, ScoreThreshold: p.ScoreThreshold}
	retriever := o.retriever(p.UseHybrid)

	if len(targets) == 1 {
		hits, err := retriever.Search(ctx, targets[0], p.Query, opts)
		if err != nil {
			return nil, fmt.Errorf("rag: retrieve: %w", err)
		}
		return fromHybridDocs(hits, targets[0]), nil
	}

	var merged []Doc
	for _, target := range targets {
		hits, err := retriever.Search(ctx, target, p.Query, opts)
		if err != nil {
			return nil, fmt.Errorf("rag: retrieve %s: %w", target, err)
		}
		merged = append(merged, fromHybridDocs(hits, target)...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

func fromHybridDocs(hits []hybrid.Doc, source string) []Doc {
	out := make([]Doc, 0, len(hits))
	for _, h := range hits {
		out = append(out, Doc{
			ID: h.ID, Score: h.Score, Payload: h.Payload, SourceCollection: source,
			VectorScore: h.VectorScore, BM25Score: h.BM25Score,
		})
	}
	return out
}

// rerankString builds "[filename] [headings[1]] text" (spec §4.9.1 step 5).
func rerankString(d Doc) string {
	var b strings.Builder
	if f := d.filename(); f != "" {
		fmt.Fprintf(&b, "[%s] ", f)
	}
	if h := d.headings(); len(h) > 1 {
		fmt.Fprintf(&b, "[%s] ", h[1])
	}
	b.WriteString(d.text())
	return b.String()
}

func (o *Orchestrator) rerank(ctx context.Context, query string, docs []Doc, topK int) []Doc {
	strs := make([]reranker.Document, len(docs))
	for i, d := range docs {
		strs[i] = rerankString(d)
	}
	results := o.Reranker.RerankWithFallback(ctx, query, strs, topK, false)
	if results == nil {
		return docs
	}

	reranked := make([]Doc, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(docs) {
			continue
		}
		d := docs[r.Index]
		d.Score = r.RelevanceScore
		reranked = append(reranked, d)
	}

	var passed []Doc
	for _, d := range reranked {
		if d.Score >= o.Rerank.ScoreThreshold {
			passed = append(passed, d)
		}
	}
	if len(passed) > 0 {
		if len(passed) > topK {
			passed = passed[:topK]
		}
		return passed
	}
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked
}

func (o *Orchestrator) attachKeywords(query string, docs []Doc) {
	keywords := citations.ExtractKeywords(query)
	for i := range docs {
		docs[i].Keywords = citations.MatchKeywords(docs[i].text(), keywords)
	}
}

// AttachCitations runs C7's post-hoc citation extraction once the full
// answer is known (spec §4.9.2 step 4).
func (o *Orchestrator) AttachCitations(answer string, docs []Doc) {
	for i := range docs {
		docs[i].CitedPhrases = citations.ExtractCitations(answer, docs[i].text())
	}
}

// Regenerate implements spec §4.9.3: skip retrieval and reranking entirely,
// reuse client-supplied docs.
func (o *Orchestrator) Regenerate(ctx context.Context, p Params, docs []Doc) (Answer, error) {
	messages := o.buildMessages(p, docs)
	result, err := o.LLM.Chat(ctx, p.ModelKey, messages, p.SamplingParams)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: regenerate: %w", err)
	}
	return Answer{Content: result.Content, ReasoningContent: result.ReasoningContent, Usage: result.Usage, RetrievedDocs: docs}, nil
}
