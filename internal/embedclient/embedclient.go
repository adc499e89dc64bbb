// Package embedclient implements C1: turning text into dense vectors via an
// external OpenAI-compatible embeddings endpoint.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ragcore/internal/config"
)

// ErrUpstreamUnavailable wraps transport failures and timeouts talking to the
// embedding service.
var ErrUpstreamUnavailable = errors.New("embedclient: upstream unavailable")

// ErrShapeMismatch is returned when a returned vector's length does not match
// the configured dimension D.
var ErrShapeMismatch = errors.New("embedclient: shape mismatch")

// Client embeds text via an OpenAI-compatible /v1/embeddings endpoint.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
}

// New builds a Client. The HTTP client owns its own connection pool, sized by
// the default transport, consistent with one client per logical service.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type embedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed turns 1..N non-empty strings into N vectors, each of Client's
// configured dimension. It performs no retries; callers retry at the stage
// boundary (spec §4.1).
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedclient: no input texts")
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("embedclient: input %d is empty", i)
		}
	}

	body, err := json.Marshal(embedRequest{
		Input:          texts,
		Model:          c.cfg.Model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(b))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", ErrUpstreamUnavailable, len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		if c.cfg.Dim > 0 && len(d.Embedding) != c.cfg.Dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, want %d", ErrShapeMismatch, d.Index, len(d.Embedding), c.cfg.Dim)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding at index %d", ErrUpstreamUnavailable, i)
		}
	}
	return out, nil
}

// Embedder is the narrow interface C6/C9 depend on, so tests can substitute a
// deterministic fake instead of a live HTTP client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*Client)(nil)
