package rag

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/config"
	"ragcore/internal/hybrid"
	"ragcore/internal/llmclient"
	"ragcore/internal/vectorstore"
)

type fakeRetriever struct {
	byCollection map[string][]hybrid.Doc
	err          error
}

func (f fakeRetriever) Search(_ context.Context, collection, _ string, opts hybrid.Options) ([]hybrid.Doc, error) {
	if f.err != nil {
		return nil, f.err
	}
	docs := f.byCollection[collection]
	if opts.TopK > 0 && len(docs) > opts.TopK {
		docs = docs[:opts.TopK]
	}
	return docs, nil
}

func newLLMClient(t *testing.T, handler http.HandlerFunc) *llmclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.LLMConfig{
		Default:       config.ModelConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"},
		ChatTimeout:   5 * time.Second,
		StreamTimeout: 5 * time.Second,
	}
	return llmclient.New(cfg)
}

func TestChat_CasualModeSkipsRetrieval(t *testing.T) {
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"}}]}`)
	})
	o := &Orchestrator{LLM: llm}

	answer, err := o.Chat(context.Background(), Params{Query: "hello", ModelKey: "gpt-4o-mini", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, "hi there", answer.Content)
	assert.Empty(t, answer.RetrievedDocs)
}

func TestChat_NoDocsReturnsLiteralMessageWithoutCallingLLM(t *testing.T) {
	called := false
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		fmt.Fprint(w, `{"choices":[{"message":{"content":"should not happen"}}]}`)
	})
	o := &Orchestrator{
		LLM:        llm,
		VectorOnly: fakeRetriever{byCollection: map[string][]hybrid.Doc{}},
	}

	answer, err := o.Chat(context.Background(), Params{
		CollectionName: "policies", Query: "q", ModelKey: "gpt-4o-mini", TopK: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, noDocsMessage, answer.Content)
	assert.False(t, called)
}

func TestChat_RetrievesAndAssemblesReferenceBlock(t *testing.T) {
	var capturedBody string
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		capturedBody = string(buf)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"answer"}}],"usage":{"total_tokens":7}}`)
	})
	retriever := fakeRetriever{byCollection: map[string][]hybrid.Doc{
		"policies": {
			{ID: "d1", Score: 0.9, Payload: vectorstore.Payload{"text": "refund text", "filename": "policy.md"}},
		},
	}}
	o := &Orchestrator{LLM: llm, VectorOnly: retriever}

	answer, err := o.Chat(context.Background(), Params{
		CollectionName: "policies", Query: "refund rules", ModelKey: "gpt-4o-mini", TopK: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Content)
	assert.Equal(t, 7, answer.Usage.TotalTokens)
	require.Len(t, answer.RetrievedDocs, 1)
	assert.Contains(t, capturedBody, "refund text")
	assert.Contains(t, capturedBody, "policy.md")
}

func TestChat_DeepReasoningModelPacksSingleUserMessage(t *testing.T) {
	var capturedBody string
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		capturedBody = string(buf)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"answer"}}]}`)
	})
	retriever := fakeRetriever{byCollection: map[string][]hybrid.Doc{
		"policies": {{ID: "d1", Score: 0.9, Payload: vectorstore.Payload{"text": "refund text"}}},
	}}
	o := &Orchestrator{LLM: llm, VectorOnly: retriever}

	_, err := o.Chat(context.Background(), Params{
		CollectionName: "policies", Query: "refund rules", ModelKey: "hcx-005", TopK: 3,
	})
	require.NoError(t, err)
	assert.Contains(t, capturedBody, `"role":"user"`)
	assert.NotContains(t, capturedBody, `"role":"system"`)
}

func TestRegenerate_SkipsRetrieval(t *testing.T) {
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"regenerated"}}]}`)
	})
	o := &Orchestrator{LLM: llm, VectorOnly: fakeRetriever{err: fmt.Errorf("must not be called")}}

	docs := []Doc{{ID: "d1", Score: 0.5, Payload: vectorstore.Payload{"text": "kept doc"}}}
	answer, err := o.Regenerate(context.Background(), Params{
		CollectionName: "policies", Query: "refund rules", ModelKey: "gpt-4o-mini",
	}, docs)
	require.NoError(t, err)
	assert.Equal(t, "regenerated", answer.Content)
	assert.Equal(t, docs, answer.RetrievedDocs)
}
