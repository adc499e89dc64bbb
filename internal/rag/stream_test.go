package rag

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/hybrid"
	"ragcore/internal/vectorstore"
)

func drain(t *testing.T, out <-chan string) []string {
	t.Helper()
	var lines []string
	require.Eventually(t, func() bool {
		for {
			select {
			case line, ok := <-out:
				if !ok {
					return true
				}
				lines = append(lines, line)
			default:
				return false
			}
		}
	}, 2*time.Second, time.Millisecond)
	return lines
}

func TestChatStream_EmitsStagesSourcesAndTokens(t *testing.T) {
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		fw := bufio.NewWriter(w)
		fmt.Fprintln(fw, `data: {"choices":[{"delta":{"content":"hi"}}]}`)
		fmt.Fprintln(fw, `data: [DONE]`)
		fw.Flush()
	})
	retriever := fakeRetriever{byCollection: map[string][]hybrid.Doc{
		"policies": {{ID: "d1", Score: 0.9, Payload: vectorstore.Payload{"text": "refund text"}}},
	}}
	o := &Orchestrator{LLM: llm, VectorOnly: retriever}

	out := make(chan string, 16)
	o.ChatStream(context.Background(), Params{
		CollectionName: "policies", Query: "refund rules", ModelKey: "gpt-4o-mini", TopK: 3,
	}, out)

	lines := drain(t, out)
	require.NotEmpty(t, lines)
	assert.Equal(t, `data: {"type":"stage","stage":"analyze"}`, lines[0])
	assert.Equal(t, `data: {"type":"stage","stage":"search"}`, lines[1])
	assert.Contains(t, lines[2], `"sources"`)
	assert.True(t, strings.HasPrefix(lines[2], "data: "))
	assert.Equal(t, `data: {"type":"stage","stage":"generate"}`, lines[3])
	assert.Contains(t, lines[4], "hi")
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])
}

func TestChatStream_NoDocsEmitsLiteralMessageAndDone(t *testing.T) {
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("LLM must not be called when no documents are retrieved")
	})
	o := &Orchestrator{LLM: llm, VectorOnly: fakeRetriever{byCollection: map[string][]hybrid.Doc{}}}

	out := make(chan string, 16)
	o.ChatStream(context.Background(), Params{
		CollectionName: "policies", Query: "q", ModelKey: "gpt-4o-mini", TopK: 3,
	}, out)

	lines := drain(t, out)
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, lines[len(lines)-2], noDocsMessage)
	assert.Contains(t, lines[len(lines)-2], `"error"`)
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "data: "))
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])
}

func TestChatStream_CasualModeOnlyEmitsGenerateStage(t *testing.T) {
	llm := newLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		fw := bufio.NewWriter(w)
		fmt.Fprintln(fw, `data: {"choices":[{"delta":{"content":"hi"}}]}`)
		fmt.Fprintln(fw, `data: [DONE]`)
		fw.Flush()
	})
	o := &Orchestrator{LLM: llm}

	out := make(chan string, 16)
	o.ChatStream(context.Background(), Params{Query: "hi", ModelKey: "gpt-4o-mini"}, out)

	lines := drain(t, out)
	var stages int
	for _, l := range lines {
		if strings.Contains(l, `"stage":"analyze"`) || strings.Contains(l, `"stage":"search"`) {
			stages++
		}
	}
	assert.Equal(t, 0, stages)
	assert.Contains(t, lines, `data: {"type":"stage","stage":"generate"}`)
	for _, l := range lines {
		assert.NotContains(t, l, `"sources"`)
	}
}
