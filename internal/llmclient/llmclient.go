// Package llmclient implements C4: chat and chat_stream over an
// OpenAI-compatible endpoint resolved per model key, following the teacher's
// completions.go SSE-forwarding pattern and rag.go's chat-completion request
// shape.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ragcore/internal/config"
)

// ErrUpstreamUnavailable wraps transport failures and timeouts talking to the
// chat endpoint.
var ErrUpstreamUnavailable = errors.New("llmclient: upstream unavailable")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params mirrors spec §4.4's sampling parameters.
type Params struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Usage mirrors an OpenAI-compatible usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is chat()'s return value.
type ChatResult struct {
	Content          string
	ReasoningContent string
	Usage            Usage
}

// Client dispatches chat/chat_stream to the OpenAI-compatible endpoint
// configured for a given model key (config.LLMConfig.Default, overridden per
// key by config.LLMConfig.Overrides).
type Client struct {
	cfg          config.LLMConfig
	httpClient   *http.Client
	streamClient *http.Client
}

func New(cfg config.LLMConfig) *Client {
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.ChatTimeout},
		streamClient: &http.Client{Timeout: cfg.StreamTimeout},
	}
}

func (c *Client) modelConfig(modelKey string) config.ModelConfig {
	if mc, ok := c.cfg.Overrides[modelKey]; ok {
		return mc
	}
	return c.cfg.Default
}

// deepReasoningFamilies lists the model_key substrings treated as the
// "deep-reasoning" family for response post-processing (spec §4.4).
var deepReasoningFamilies = []string{"hcx", "deep-reasoning", "reasoning-pro"}

// IsDeepReasoning reports whether modelKey belongs to the deep-reasoning
// family requiring <thought> stripping.
func IsDeepReasoning(modelKey string) bool {
	lower := strings.ToLower(modelKey)
	for _, fam := range deepReasoningFamilies {
		if strings.Contains(lower, fam) {
			return true
		}
	}
	return false
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature,omitempty"`
	TopP             float64   `json:"top_p,omitempty"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	FrequencyPenalty float64   `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64   `json:"presence_penalty,omitempty"`
	Stream           bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *Client) buildRequest(ctx context.Context, modelKey string, messages []Message, params Params, stream bool) (*http.Request, error) {
	mc := c.modelConfig(modelKey)
	body, err := json.Marshal(chatRequest{
		Model:            mc.Model,
		Messages:         messages,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		MaxTokens:        params.MaxTokens,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		Stream:           stream,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mc.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if mc.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+mc.APIKey)
	}
	return req, nil
}

// Chat performs a non-streaming chat completion, applying deep-reasoning
// post-processing (thought-block stripping) when modelKey's family requires
// it (spec §4.4).
func (c *Client) Chat(ctx context.Context, modelKey string, messages []Message, params Params) (ChatResult, error) {
	req, err := c.buildRequest(ctx, modelKey, messages, params, false)
	if err != nil {
		return ChatResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatResult{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return ChatResult{}, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(b))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResult{}, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("%w: no choices returned", ErrUpstreamUnavailable)
	}

	content := parsed.Choices[0].Message.Content
	if IsDeepReasoning(modelKey) {
		content = StripThoughtBlock(content)
	}
	return ChatResult{
		Content:          content,
		ReasoningContent: parsed.Choices[0].Message.ReasoningContent,
		Usage:            parsed.Usage,
	}, nil
}

// ChatStream performs a streaming chat completion, forwarding each raw SSE
// "data: ..." line to out, stripping the deep-reasoning thought block
// statefully when modelKey requires it (spec §4.4, Scenario B). ChatStream
// blocks until the upstream stream ends or ctx is cancelled; it preserves the
// "[DONE]" sentinel line unchanged.
func (c *Client) ChatStream(ctx context.Context, modelKey string, messages []Message, params Params, out chan<- string) error {
	defer close(out)

	req, err := c.buildRequest(ctx, modelKey, messages, params, true)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(b))
	}

	var stripper *ThoughtStripper
	if IsDeepReasoning(modelKey) {
		stripper = NewThoughtStripper()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if stripper != nil {
			cleaned, ok := stripper.Feed(payload)
			if !ok {
				continue
			}
			payload = cleaned
		}

		select {
		case out <- "data: " + payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: stream read: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}
