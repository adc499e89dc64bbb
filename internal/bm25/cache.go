package bm25

import (
	"context"
	"fmt"
	"sync"

	"ragcore/internal/vectorstore"
)

// Cache holds a lazily-built BM25 Index per collection, loaded by scrolling
// the vector store for every point's "text" payload field. It is
// shared-read-mostly: a rebuild blocks concurrent readers for the same
// collection behind a per-collection lock so a cache miss triggers exactly
// one scroll, not one per concurrent caller (spec §5).
type Cache struct {
	store vectorstore.VectorStore

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	idx *Index
}

// NewCache builds an empty cache backed by store.
func NewCache(store vectorstore.VectorStore) *Cache {
	return &Cache{store: store, entries: map[string]*entry{}}
}

func (c *Cache) entryFor(collection string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[collection]
	if !ok {
		e = &entry{}
		c.entries[collection] = e
	}
	return e
}

// ensure returns the built Index for collection, building it on first use.
// Concurrent callers for the same collection block on e.mu and observe the
// single build's result rather than triggering their own scroll.
func (c *Cache) ensure(ctx context.Context, collection string) (*Index, error) {
	e := c.entryFor(collection)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx != nil {
		return e.idx, nil
	}
	docs, err := c.scrollAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("bm25: build cache for %s: %w", collection, err)
	}
	e.idx = New(docs)
	return e.idx, nil
}

func (c *Cache) scrollAll(ctx context.Context, collection string) ([]Document, error) {
	const pageSize = 256
	var docs []Document
	offset := ""
	for {
		hits, next, err := c.store.Scroll(ctx, collection, pageSize, offset, []string{"text"})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			text, _ := h.Payload["text"].(string)
			docs = append(docs, Document{ID: h.ID, Text: text})
		}
		if next == "" || len(hits) == 0 {
			break
		}
		offset = next
	}
	return docs, nil
}

// Search builds (or reuses) the cache for collection and scores query
// against it, returning the top-k matches. Returns nil, nil if the
// collection has no indexable points.
func (c *Cache) Search(ctx context.Context, collection, query string, topK int) ([]Scored, error) {
	idx, err := c.ensure(ctx, collection)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, topK), nil
}

// Text returns the cached text for id within collection, used to hydrate
// payload.text for BM25-only hits (spec §4.6 step 4). The collection must
// already be cached; callers invoke this only after a successful Search.
func (c *Cache) Text(collection, id string) (string, bool) {
	c.mu.Lock()
	e, ok := c.entries[collection]
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx == nil {
		return "", false
	}
	return e.idx.Text(id)
}

// Invalidate clears the cached index for one collection, or every
// collection when collection is "". Writers (upload, delete) must call this
// so the next search rebuilds from the current corpus (spec §4.5, §3).
func (c *Cache) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if collection == "" {
		c.entries = map[string]*entry{}
		return
	}
	delete(c.entries, collection)
}
