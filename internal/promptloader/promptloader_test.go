package promptloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_EmptyCollectionUsesCasual(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "casual.md", "casual prompt {reasoning_instruction}")
	writeFile(t, dir, "default.md", "default prompt {reasoning_instruction}")

	l, err := New(dir)
	require.NoError(t, err)

	got := l.GetSystemPrompt("", "low", "gpt-4o")
	assert.Contains(t, got, "casual prompt")
	assert.Contains(t, got, "Answer directly and concisely.")
}

func TestLoader_UnknownCollectionFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.md", "default prompt {reasoning_instruction}")

	l, err := New(dir)
	require.NoError(t, err)

	got := l.GetSystemPrompt("unmapped-collection", "medium", "claude-3")
	assert.Contains(t, got, "default prompt")
	assert.Contains(t, got, "Reasoning: medium")
}

func TestLoader_MappingResolvesCollectionToFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "legal.md", "legal prompt {reasoning_instruction}")
	writeFile(t, dir, "mapping.json", `{"collection_prompts": {"contracts": {"prompt_file": "legal.md", "description": "d"}}, "default_prompt": "default.md"}`)

	l, err := New(dir)
	require.NoError(t, err)

	got := l.GetSystemPrompt("contracts", "high", "hcx-005")
	assert.Contains(t, got, "legal prompt")
	assert.Contains(t, got, "Reasoning: high")
}

func TestLoader_UnknownCollectionUsesMappingDefaultPrompt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "house.md", "house prompt {reasoning_instruction}")
	writeFile(t, dir, "mapping.json", `{"collection_prompts": {"contracts": {"prompt_file": "legal.md"}}, "default_prompt": "house.md"}`)

	l, err := New(dir)
	require.NoError(t, err)

	got := l.GetSystemPrompt("unmapped-collection", "low", "gpt-4o")
	assert.Contains(t, got, "house prompt")
}

func TestLoader_Reload_InvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "default.md", "v1 {reasoning_instruction}")

	l, err := New(dir)
	require.NoError(t, err)
	first := l.GetSystemPrompt("x", "low", "gpt-4o")
	assert.Contains(t, first, "v1")

	writeFile(t, dir, "default.md", "v2 {reasoning_instruction}")
	l.Reload()
	second := l.GetSystemPrompt("x", "low", "gpt-4o")
	assert.Contains(t, second, "v2")
}
