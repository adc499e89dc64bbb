// Package promptloader implements C8: resolving a collection name to a
// system prompt file, with mtime-based caching and reasoning-instruction
// substitution. No teacher file does directory-mapped prompt loading (the
// closest analogue, internal/agent/prompts/system.go, composes one static
// prompt string); this package follows that file's cache-and-rebuild idiom
// generalized to the mapping.json-driven layout spec §4.8 describes.
package promptloader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	casualPromptFile  = "casual.md"
	defaultPromptFile = "default.md"
	placeholder       = "{reasoning_instruction}"
	hardcodedDefault  = "You are a helpful assistant. Answer using only the provided context."
)

// MappingEntry is one collection_prompts value in mapping.json.
type MappingEntry struct {
	PromptFile        string         `json:"prompt_file"`
	Description       string         `json:"description"`
	RecommendedParams map[string]any `json:"recommended_params"`
}

// mappingFile is mapping.json's on-disk shape (spec §6; original_source
// prompt_loader.py:157-167): collection-keyed entries live under
// collection_prompts, with a top-level default_prompt file name fallback.
type mappingFile struct {
	CollectionPrompts map[string]MappingEntry `json:"collection_prompts"`
	DefaultPrompt     string                   `json:"default_prompt"`
}

type cacheEntry struct {
	content string
	modTime int64
}

// Loader resolves and caches system prompts from a prompts/ directory.
type Loader struct {
	dir           string
	mapping       map[string]MappingEntry
	defaultPrompt string
	mu            sync.Mutex
	cache         map[string]cacheEntry
}

// New loads mapping.json from dir/mapping.json (missing file is tolerated —
// every collection falls back to default.md).
func New(dir string) (*Loader, error) {
	l := &Loader{dir: dir, mapping: map[string]MappingEntry{}, cache: map[string]cacheEntry{}}
	raw, err := os.ReadFile(filepath.Join(dir, "mapping.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("promptloader: read mapping.json: %w", err)
	}
	var mf mappingFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("promptloader: parse mapping.json: %w", err)
	}
	if mf.CollectionPrompts != nil {
		l.mapping = mf.CollectionPrompts
	}
	l.defaultPrompt = mf.DefaultPrompt
	return l, nil
}

// Reload clears every cached file (spec §4.8: "reload() clears all caches").
func (l *Loader) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = map[string]cacheEntry{}
}

// promptFileFor resolves collectionName to a prompt file name, following the
// mapping → default_prompt → default.md chain.
func (l *Loader) promptFileFor(collectionName string) string {
	if collectionName == "" {
		return casualPromptFile
	}
	entry, ok := l.mapping[collectionName]
	if !ok {
		if l.defaultPrompt != "" {
			return l.defaultPrompt
		}
		return defaultPromptFile
	}
	if entry.PromptFile == "" {
		return defaultPromptFile
	}
	return entry.PromptFile
}

// read loads a prompt file with mtime-based caching: a cache hit is returned
// as long as the file's mtime is unchanged; otherwise the file is re-read.
func (l *Loader) read(file string) (string, error) {
	path := filepath.Join(l.dir, file)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	mtime := info.ModTime().UnixNano()

	l.mu.Lock()
	if cached, ok := l.cache[file]; ok && cached.modTime == mtime {
		l.mu.Unlock()
		return cached.content, nil
	}
	l.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(raw)

	l.mu.Lock()
	l.cache[file] = cacheEntry{content: content, modTime: mtime}
	l.mu.Unlock()
	return content, nil
}

// GetSystemPrompt implements get_system_prompt (spec §4.8). On any read
// failure it falls back along the chain: requested file -> default.md ->
// the hardcoded default.
func (l *Loader) GetSystemPrompt(collectionName, reasoningLevel, modelKey string) string {
	file := l.promptFileFor(collectionName)

	content, err := l.read(file)
	if err != nil && file != defaultPromptFile {
		content, err = l.read(defaultPromptFile)
	}
	if err != nil {
		content = hardcodedDefault
	}

	instruction := reasoningInstruction(modelKey, reasoningLevel)
	return strings.ReplaceAll(content, placeholder, instruction)
}

// literalLevelFamilies and stepByStepFamilies group model_key prefixes
// sharing a reasoning instruction table (spec §4.8 step 4).
var literalLevelFamilies = []string{"hcx", "claude"}
var stepByStepFamilies = []string{"gemini", "gpt"}

// reasoningInstruction picks the instruction table by modelKey prefix.
func reasoningInstruction(modelKey, level string) string {
	lower := strings.ToLower(modelKey)
	for _, fam := range literalLevelFamilies {
		if strings.HasPrefix(lower, fam) {
			return literalInstruction(level)
		}
	}
	for _, fam := range stepByStepFamilies {
		if strings.HasPrefix(lower, fam) {
			return stepByStepInstruction(level)
		}
	}
	return defaultInstruction(level)
}

func literalInstruction(level string) string {
	switch strings.ToLower(level) {
	case "high":
		return "Reasoning: high"
	case "medium":
		return "Reasoning: medium"
	default:
		return "Reasoning: low"
	}
}

func stepByStepInstruction(level string) string {
	switch strings.ToLower(level) {
	case "high":
		return "Think through this step by step, considering multiple angles and verifying your conclusion before answering."
	case "medium":
		return "Think step by step before answering."
	default:
		return "Answer directly and concisely."
	}
}

func defaultInstruction(level string) string {
	switch strings.ToLower(level) {
	case "high":
		return "Provide a thorough, well-reasoned answer."
	case "medium":
		return "Provide a clear, moderately detailed answer."
	default:
		return "Provide a brief answer."
	}
}
