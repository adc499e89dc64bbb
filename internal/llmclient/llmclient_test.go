package llmclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/config"
)

func TestIsDeepReasoning(t *testing.T) {
	assert.True(t, IsDeepReasoning("hcx-005"))
	assert.True(t, IsDeepReasoning("Deep-Reasoning-v2"))
	assert.False(t, IsDeepReasoning("gpt-4o-mini"))
}

func TestClient_Chat_StripsThoughtBlockForDeepReasoningFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"<thought>plan</thought>answer text"}}],"usage":{"total_tokens":12}}`)
	}))
	defer srv.Close()

	cfg := config.LLMConfig{Default: config.ModelConfig{BaseURL: srv.URL, Model: "hcx-005"}, ChatTimeout: 5 * time.Second}
	c := New(cfg)

	result, err := c.Chat(context.Background(), "hcx-005", []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "answer text", result.Content)
	assert.Equal(t, 12, result.Usage.TotalTokens)
}

func TestClient_Chat_PassesThroughForNonReasoningModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"plain answer"}}]}`)
	}))
	defer srv.Close()

	cfg := config.LLMConfig{Default: config.ModelConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"}, ChatTimeout: 5 * time.Second}
	c := New(cfg)

	result, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", result.Content)
}

func TestClient_ChatStream_ForwardsDeltasAndDoneSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fw := bufio.NewWriter(w)
		fmt.Fprintln(fw, `data: {"choices":[{"delta":{"content":"hello"}}]}`)
		fmt.Fprintln(fw, `data: [DONE]`)
		fw.Flush()
	}))
	defer srv.Close()

	cfg := config.LLMConfig{Default: config.ModelConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"}, StreamTimeout: 5 * time.Second}
	c := New(cfg)

	out := make(chan string, 8)
	err := c.ChatStream(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, Params{}, out)
	require.NoError(t, err)

	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "hello")
	assert.Equal(t, "data: [DONE]", lines[1])
}
