// Package reranker implements C3: the cross-encoder reranker client over an
// HTTP endpoint, following embedclient's request/decode shape (both speak to
// a sibling inference server over a small JSON API).
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"ragcore/internal/config"
)

// ErrUpstreamUnavailable collapses timeout, HTTP-status, and network errors,
// matching C3's error taxonomy (spec §4.3): all three collapse to "no
// results" for rerank_with_fallback.
var ErrUpstreamUnavailable = errors.New("reranker: upstream unavailable")

// Document is a plain string; callers pass already flattened rerank strings
// (spec §4.9 step 5: "[filename] [headings[1]] text").
type Document = string

// Result is one RerankResult: {index, relevance_score, document?}.
type Result struct {
	Index          int
	RelevanceScore float64
	Document       string
}

// Client calls a cross-encoder rerank endpoint.
type Client struct {
	cfg        config.RerankerConfig
	httpClient *http.Client
}

func New(cfg config.RerankerConfig) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
		Document       *struct {
			Text string `json:"text"`
		} `json:"document,omitempty"`
	} `json:"results"`
}

// Rerank scores documents against query and returns RerankResults sorted by
// relevance_score descending. topN<=0 means "return all".
func (c *Client) Rerank(ctx context.Context, query string, documents []Document, topN int, returnDocuments bool) ([]Result, error) {
	if len(documents) == 0 {
		return nil, fmt.Errorf("reranker: no documents")
	}

	body, err := json.Marshal(rerankRequest{
		Model:           c.cfg.Model,
		Query:           query,
		Documents:       documents,
		TopN:            topN,
		ReturnDocuments: returnDocuments,
	})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reranker: build request: %w", err)
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

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}

	out := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		res := Result{Index: r.Index, RelevanceScore: r.RelevanceScore}
		if r.Document != nil {
			res.Document = r.Document.Text
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out, nil
}

// RerankWithFallback calls Rerank and swallows any error, returning nil so
// the orchestrator can degrade to vector-only ordering (spec §4.3).
func (c *Client) RerankWithFallback(ctx context.Context, query string, documents []Document, topN int, returnDocuments bool) []Result {
	results, err := c.Rerank(ctx, query, documents, topN, returnDocuments)
	if err != nil {
		return nil
	}
	return results
}
