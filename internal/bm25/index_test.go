package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_LowercasesAndSplitsOnPunctuation(t *testing.T) {
	toks := Tokenize("Hello, World! 한국어 테스트_1")
	assert.Equal(t, []string{"hello", "world", "한국어", "테스트_1"}, toks)
}

func TestTokenize_EmptyAndWhitespaceOnly(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   \t\n  "))
}

func TestIndex_Empty_ReturnsNilSearch(t *testing.T) {
	idx := New(nil)
	assert.True(t, idx.Empty())
	assert.Nil(t, idx.Search("anything", 5))
}

func TestIndex_Search_RanksExactTermMatchAboveNonMatch(t *testing.T) {
	idx := New([]Document{
		{ID: "d1", Text: "the quick brown fox jumps over the lazy dog"},
		{ID: "d2", Text: "completely unrelated text about cooking recipes"},
		{ID: "d3", Text: "fox fox fox sighting reported near the barn"},
	})
	results := idx.Search("fox", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "d3", results[0].ID, "doc with highest term frequency for 'fox' should rank first")

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.NotContains(t, ids, "d2")
}

func TestIndex_Search_RespectsTopK(t *testing.T) {
	idx := New([]Document{
		{ID: "d1", Text: "alpha beta"},
		{ID: "d2", Text: "alpha gamma"},
		{ID: "d3", Text: "alpha delta"},
	})
	results := idx.Search("alpha", 2)
	assert.Len(t, results, 2)
}

func TestIndex_Text_HydratesPayloadForKnownID(t *testing.T) {
	idx := New([]Document{{ID: "d1", Text: "hello there"}})
	text, ok := idx.Text("d1")
	require.True(t, ok)
	assert.Equal(t, "hello there", text)

	_, ok = idx.Text("missing")
	assert.False(t, ok)
}

func TestIndex_Search_QueryWithNoKnownTermsReturnsNil(t *testing.T) {
	idx := New([]Document{{ID: "d1", Text: "alpha beta"}})
	assert.Nil(t, idx.Search("zzz yyy", 5))
}
