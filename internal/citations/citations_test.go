package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCitations_ScenarioE(t *testing.T) {
	answer := `제10조 제2항에 따르면 "환불은 7일 이내에" 가능합니다.`
	docText := `제10조 제2항에 따라 환불은 7일 이내에 처리한다.`

	phrases := ExtractCitations(answer, docText)
	assert.Contains(t, phrases, "환불은 7일 이내에")

	found := false
	for _, p := range phrases {
		if p != "" && containsSubstr(p, "제10조") && containsSubstr(p, "제2항") {
			found = true
		}
	}
	assert.True(t, found, "expected a 제10조 제2항 sentence among cited phrases, got %v", phrases)
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestExtractCitations_NeverPanicsOnEmptyInputs(t *testing.T) {
	assert.Equal(t, []string{}, ExtractCitations("", ""))
}

func TestExtractCitations_CapsAtFivePerDoc(t *testing.T) {
	answer := `"aaaaaaaaaa" "bbbbbbbbbb" "cccccccccc" "dddddddddd" "eeeeeeeeee" "ffffffffff"`
	doc := "aaaaaaaaaa bbbbbbbbbb cccccccccc dddddddddd eeeeeeeeee ffffffffff"
	phrases := ExtractCitations(answer, doc)
	assert.LessOrEqual(t, len(phrases), 5)
}

func TestExtractKeywords_FiltersStopwordsAndShortTokens(t *testing.T) {
	kws := ExtractKeywords("무엇이 환불 정책 인가요 a")
	assert.Contains(t, kws, "환불")
	assert.Contains(t, kws, "정책")
	assert.NotContains(t, kws, "무엇")
}

func TestMatchKeywords_AllowsTrailingParticle(t *testing.T) {
	matched := MatchKeywords("문서를 확인하세요", []string{"문서"})
	assert.Equal(t, []string{"문서"}, matched)
}
