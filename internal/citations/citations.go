// Package citations implements C7: keyword matching between a query and
// retrieved documents, and post-hoc citation extraction between an LLM
// answer and its source documents. No Korean morphological analyzer exists
// anywhere in the example corpus, so this is an original implementation,
// loosely informed by the original service's regex-based article-reference
// and quoted-phrase strategies.
package citations

import (
	"regexp"
	"strings"
	"unicode"
)

// stopwords excludes common interrogative/pronoun tokens from keyword
// extraction (spec §4.7).
var stopwords = map[string]bool{
	"무엇": true, "누구": true, "어디": true, "언제": true, "어떻게": true,
	"왜": true, "얼마나": true, "그것": true, "이것": true, "저것": true,
	"what": true, "who": true, "where": true, "when": true, "how": true,
	"why": true, "which": true, "this": true, "that": true,
}

// trailingParticles are the common Korean case/topic particles stripped when
// matching a keyword against document text, so "문서가"/"문서는"/"문서를"
// all match the keyword "문서" (spec §4.7: "allowing trailing particle variants").
var trailingParticles = []string{"이가", "이는", "은", "는", "이", "가", "을", "를", "에서", "에게", "와", "과", "의", "도"}

// wordPattern approximates "common and proper nouns" without a POS tagger: a
// run of letters/digits/underscore of length >= 2.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// ExtractKeywords tokenizes query into candidate keywords (length >= 2,
// stoplist-filtered) and returns them deduplicated, preserving first-seen
// order.
func ExtractKeywords(query string) []string {
	lower := strings.ToLower(query)
	matches := wordPattern.FindAllString(lower, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if stopwords[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// MatchKeywords reports which of keywords occur in text, allowing a trailing
// Korean particle between the keyword and a word boundary.
func MatchKeywords(text string, keywords []string) []string {
	lowerText := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if containsWithParticle(lowerText, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func containsWithParticle(text, keyword string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], keyword)
		if pos < 0 {
			return false
		}
		pos += idx
		end := pos + len(keyword)
		if end == len(text) {
			return true
		}
		rest := text[end:]
		for _, p := range trailingParticles {
			if strings.HasPrefix(rest, p) {
				return true
			}
		}
		if !unicode.IsLetter(rune(text[end])) && !unicode.IsDigit(rune(text[end])) {
			return true
		}
		idx = end
	}
}

// maxCitationsPerDoc caps cited_phrases per document (spec §4.7).
const maxCitationsPerDoc = 5

// articleRefPattern matches Korean legal cross-references like
// "제10조 제2항 제3호" with the trailing components optional.
var articleRefPattern = regexp.MustCompile(`제\s*\d+\s*조(?:\s*제\s*\d+\s*항)?(?:\s*제\s*\d+\s*호)?`)

// quotePairs are the Unicode quote mark pairs recognized for quoted-phrase
// extraction (spec §4.7 strategy 2).
var quotePairs = [][2]rune{{'"', '"'}, {'“', '”'}, {'「', '」'}, {'『', '』'}}

// ExtractCitations runs the three matching strategies against one document's
// text and returns the union of hits, capped at 5. It never panics; any
// internal failure yields an empty slice (spec §4.7).
func ExtractCitations(answer, docText string) (phrases []string) {
	defer func() {
		if recover() != nil {
			phrases = []string{}
		}
	}()

	var hits []string
	hits = append(hits, articleReferenceHits(answer, docText)...)
	hits = append(hits, quotedPhraseHits(answer, docText)...)

	if len(hits) == 0 {
		hits = append(hits, ngramFallback(answer, docText)...)
	}

	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
		if len(out) >= maxCitationsPerDoc {
			break
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// articleReferenceHits scans docText for sentences containing every token of
// each article reference found in answer.
func articleReferenceHits(answer, docText string) []string {
	refs := articleRefPattern.FindAllString(answer, -1)
	if len(refs) == 0 {
		return nil
	}
	sentences := splitSentences(docText)
	var out []string
	for _, ref := range refs {
		tokens := strings.Fields(ref)
		for _, sentence := range sentences {
			if containsAllTokens(sentence, tokens) {
				out = append(out, strings.TrimSpace(sentence))
			}
		}
	}
	return out
}

func containsAllTokens(s string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}

func splitSentences(text string) []string {
	return regexp.MustCompile(`[.!?。\n]+`).Split(text, -1)
}

// quotedPhraseHits extracts substrings inside matched quote pairs in answer
// (length >= 10) that also appear verbatim in docText.
func quotedPhraseHits(answer, docText string) []string {
	var out []string
	for _, pair := range quotePairs {
		open, close := pair[0], pair[1]
		runes := []rune(answer)
		for i := 0; i < len(runes); i++ {
			if runes[i] != open {
				continue
			}
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == close {
					phrase := string(runes[i+1 : j])
					if len([]rune(phrase)) >= 10 && strings.Contains(docText, phrase) {
						out = append(out, phrase)
					}
					i = j
					break
				}
			}
		}
	}
	return out
}

// ngramFallback does a greedy longest-common-substring scan (min length 15)
// between answer and docText, used when strategies 1-2 found nothing in
// this document. ExtractCitations decides this per document, so hits that
// strategies 1-2 find in other documents do not suppress it.
func ngramFallback(answer, docText string) []string {
	const minLen = 15
	a := []rune(answer)
	b := []rune(docText)
	longest := longestCommonSubstring(a, b)
	if len([]rune(longest)) < minLen {
		return nil
	}
	return []string{longest}
}

func longestCommonSubstring(a, b []rune) string {
	if len(a) == 0 || len(b) == 0 {
		return ""
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	bestLen, bestEnd := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestEnd = i
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	if bestLen == 0 {
		return ""
	}
	return string(a[bestEnd-bestLen : bestEnd])
}
