// Package bm25 implements C5: a per-collection, in-memory, tokenized inverted
// index scored with Okapi BM25. It is an original implementation — the
// teacher repo only has Postgres tsvector full-text search and a plain
// token-set inverted index (internal/sefii/engine.go), neither of which
// implements genuine BM25 scoring; this package follows the same
// build/invalidate/rebuild-on-write shape those files use, with the
// classical Okapi term-weighting formula (Robertson/Sparck-Jones IDF with
// the Lucene-style "+1" smoothing term, k1=1.5, b=0.75 defaults).
package bm25

import (
	"math"
	"sort"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// Document is one corpus entry: an ID and its raw text.
type Document struct {
	ID   string
	Text string
}

// Scored pairs a document ID with its BM25 score against some query.
type Scored struct {
	ID    string
	Score float64
}

// Index is an immutable Okapi BM25 model over a fixed corpus. Build it once
// per rebuild via New; queries run against the cached Index without any
// further corpus access.
type Index struct {
	k1, b float64

	ids       []string
	texts     map[string]string
	tokens    map[string][]string
	docLen    map[string]int
	avgDocLen float64
	termDocs  map[string]int // n(t): number of docs containing term t
	n         int            // N: total documents
}

// New tokenizes docs and builds the BM25 model. An empty docs slice yields an
// empty, always-miss Index (Search returns nil).
func New(docs []Document) *Index {
	idx := &Index{
		k1:       defaultK1,
		b:        defaultB,
		texts:    make(map[string]string, len(docs)),
		tokens:   make(map[string][]string, len(docs)),
		docLen:   make(map[string]int, len(docs)),
		termDocs: make(map[string]int),
	}
	var totalLen int
	for _, d := range docs {
		if _, seen := idx.texts[d.ID]; seen {
			continue
		}
		toks := Tokenize(d.Text)
		idx.ids = append(idx.ids, d.ID)
		idx.texts[d.ID] = d.Text
		idx.tokens[d.ID] = toks
		idx.docLen[d.ID] = len(toks)
		totalLen += len(toks)

		seenTerms := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			if _, ok := seenTerms[tok]; ok {
				continue
			}
			seenTerms[tok] = struct{}{}
			idx.termDocs[tok]++
		}
	}
	idx.n = len(idx.ids)
	if idx.n > 0 {
		idx.avgDocLen = float64(totalLen) / float64(idx.n)
	}
	return idx
}

// Empty reports whether the index was built over zero documents.
func (idx *Index) Empty() bool { return idx == nil || idx.n == 0 }

// Text returns the cached raw text for a document ID (used to hydrate
// payload.text for hits found only via BM25, per spec §4.6 step 4).
func (idx *Index) Text(id string) (string, bool) {
	if idx == nil {
		return "", false
	}
	t, ok := idx.texts[id]
	return t, ok
}

func (idx *Index) idf(term string) float64 {
	n := float64(idx.termDocs[term])
	N := float64(idx.n)
	return math.Log((N-n+0.5)/(n+0.5) + 1)
}

// Search tokenizes query and scores it against the cached corpus, returning
// the top-k documents sorted by descending BM25 score. Returns nil if the
// index is empty or unbuilt (spec §4.5).
func (idx *Index) Search(query string, topK int) []Scored {
	if idx.Empty() {
		return nil
	}
	qTerms := Tokenize(query)
	if len(qTerms) == 0 {
		return nil
	}
	scores := make(map[string]float64, len(idx.ids))
	for _, term := range qTerms {
		if idx.termDocs[term] == 0 {
			continue
		}
		idf := idx.idf(term)
		for _, id := range idx.ids {
			tf := termFreq(idx.tokens[id], term)
			if tf == 0 {
				continue
			}
			dl := float64(idx.docLen[id])
			denom := tf + idx.k1*(1-idx.b+idx.b*dl/idx.avgDocLen)
			scores[id] += idf * (tf * (idx.k1 + 1)) / denom
		}
	}
	out := make([]Scored, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			out = append(out, Scored{ID: id, Score: s})
		}
	}
	sortScoredDesc(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func termFreq(tokens []string, term string) float64 {
	var c float64
	for _, t := range tokens {
		if t == term {
			c++
		}
	}
	return c
}

func sortScoredDesc(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}
