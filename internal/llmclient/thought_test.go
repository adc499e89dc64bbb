package llmclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deltaChunk(content string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content)
}

func TestThoughtStripper_ScenarioB(t *testing.T) {
	s := NewThoughtStripper()

	out1, emit1 := s.Feed(deltaChunk("<thought>solve"))
	assert.False(t, emit1)
	assert.Empty(t, out1)

	out2, emit2 := s.Feed(deltaChunk(" in english</thought>안녕"))
	require.True(t, emit2)
	content2, ok := extractDeltaContent(out2)
	require.True(t, ok)
	assert.Equal(t, "안녕", content2)

	out3, emit3 := s.Feed(deltaChunk("하세요."))
	require.True(t, emit3)
	content3, ok := extractDeltaContent(out3)
	require.True(t, ok)
	assert.Equal(t, "하세요.", content3)
}

func TestThoughtStripper_NonContentChunkPassesThrough(t *testing.T) {
	s := NewThoughtStripper()
	roleChunk := `{"choices":[{"delta":{"role":"assistant"}}]}`
	out, emit := s.Feed(roleChunk)
	assert.True(t, emit)
	assert.Equal(t, roleChunk, out)
}

func TestStripThoughtBlock_RemovesThoughtAndInlineTags(t *testing.T) {
	raw := "<thought>internal reasoning</thought><think>x</think>안녕하세요[|endofturn|]"
	assert.Equal(t, "x안녕하세요", StripThoughtBlock(raw))
}

func TestStripThoughtBlock_NoThoughtBlockStillCleansTags(t *testing.T) {
	raw := "<span>hello</span>"
	assert.Equal(t, "hello", StripThoughtBlock(raw))
}
