package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/config"
	"ragcore/internal/convstore"
	"ragcore/internal/hybrid"
	"ragcore/internal/llmclient"
	"ragcore/internal/rag"
	"ragcore/internal/vectorstore"
)

type fakeRetriever struct {
	docs []hybrid.Doc
}

func (f fakeRetriever) Search(_ context.Context, _, _ string, _ hybrid.Options) ([]hybrid.Doc, error) {
	return f.docs, nil
}

func newTestServer(t *testing.T, llmHandler http.HandlerFunc) (*echo.Echo, *Server) {
	t.Helper()
	srv := httptest.NewServer(llmHandler)
	t.Cleanup(srv.Close)

	llm := llmclient.New(config.LLMConfig{
		Default:       config.ModelConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"},
		ChatTimeout:   5 * time.Second,
		StreamTimeout: 5 * time.Second,
	})
	orch := &rag.Orchestrator{
		LLM: llm,
		VectorOnly: fakeRetriever{docs: []hybrid.Doc{
			{ID: "d1", Score: 0.9, Payload: vectorstore.Payload{"text": "refund text"}},
		}},
	}
	e := echo.New()
	server := &Server{
		Orchestrator:  orch,
		Conversations: convstore.New(t.TempDir(), 1.0),
		Defaults:      config.RAGDefaults{TopK: 3, ReasoningLevel: "medium"},
	}
	server.Register(e.Group("/api"))
	return e, server
}

func TestHandleChat_ReturnsAnswerAndRetrievedDocs(t *testing.T) {
	e, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the refund window is 7 days"}}],"usage":{"total_tokens":9}}`)
	})

	body := strings.NewReader(`{"collection_name":"policies","message":"refund rules"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the refund window is 7 days", resp.Answer)
	require.Len(t, resp.RetrievedDocs, 1)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestHandleChat_RejectsEmptyMessage(t *testing.T) {
	e, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("LLM must not be called for an invalid request")
	})

	body := strings.NewReader(`{"collection_name":"policies","message":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatStream_WritesSSELines(t *testing.T) {
	e, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fw := bufio.NewWriter(w)
		fmt.Fprintln(fw, `data: {"choices":[{"delta":{"content":"hi"}}]}`)
		fmt.Fprintln(fw, `data: [DONE]`)
		fw.Flush()
	})

	body := strings.NewReader(`{"collection_name":"policies","message":"refund rules"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, `"stage":"analyze"`)
	assert.Contains(t, out, `"sources"`)
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "[DONE]")
}

func TestHandleRegenerate_SkipsRetrieval(t *testing.T) {
	e, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"regenerated answer"}}]}`)
	})

	reqBody := `{"query":"refund rules","collection_name":"policies","retrieved_docs":[{"id":"d1","score":0.5,"text":"kept doc"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/regenerate", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "regenerated answer", resp.Answer)
	require.Len(t, resp.RetrievedDocs, 1)
	assert.Equal(t, "kept doc", resp.RetrievedDocs[0].Text)
}

func TestHandleEndConversation_RequiresID(t *testing.T) {
	e, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/api/conversation/end", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
