package llmclient

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var errNoChoices = errors.New("llmclient: delta payload has no choices")

const thoughtCloseTag = "</thought>"

var inlineTagPattern = regexp.MustCompile(`</?think>|</?ref>|</?span>|<신설[^>]*>|\[\|endofturn\|\]`)

// removeInlineTags strips the fixed set of inline tags spec §4.4 names,
// leaving the surrounding text untouched.
func removeInlineTags(s string) string {
	return inlineTagPattern.ReplaceAllString(s, "")
}

// StripThoughtBlock implements the non-streaming half of spec §4.4: drop
// everything up to and including the first </thought>, then clean inline
// tags from what remains. Content with no thought block passes through
// tag-cleaned but otherwise unchanged.
func StripThoughtBlock(content string) string {
	if idx := strings.Index(content, thoughtCloseTag); idx >= 0 {
		content = content[idx+len(thoughtCloseTag):]
	}
	return removeInlineTags(content)
}

// ThoughtStripper holds the stateful buffer spec §4.4 describes for
// streaming mode: chunks accumulate silently until </thought> appears, then
// the post-thought remainder of that chunk flushes and every later chunk
// passes through after tag cleanup.
type ThoughtStripper struct {
	done bool
	buf  strings.Builder
}

func NewThoughtStripper() *ThoughtStripper {
	return &ThoughtStripper{}
}

// Feed processes one raw SSE data payload (a JSON delta object). It returns
// the payload to forward (with delta content rewritten) and whether anything
// should be emitted at all — false means swallow this chunk.
func (s *ThoughtStripper) Feed(payload string) (string, bool) {
	content, hasContent := extractDeltaContent(payload)
	if !hasContent {
		// Non-content control chunks (role markers, finish_reason, etc.)
		// pass straight through regardless of stripper state.
		return payload, true
	}

	if s.done {
		cleaned := removeInlineTags(content)
		out, err := setDeltaContent(payload, cleaned)
		if err != nil {
			return payload, true
		}
		return out, true
	}

	s.buf.WriteString(content)
	buffered := s.buf.String()
	idx := strings.Index(buffered, thoughtCloseTag)
	if idx < 0 {
		return "", false
	}

	s.done = true
	remainder := buffered[idx+len(thoughtCloseTag):]
	s.buf.Reset()
	cleaned := removeInlineTags(remainder)
	if cleaned == "" {
		return "", false
	}
	out, err := setDeltaContent(payload, cleaned)
	if err != nil {
		return payload, true
	}
	return out, true
}

// extractDeltaContent reads choices[0].delta.content out of an
// OpenAI-compatible streaming chunk.
func extractDeltaContent(payload string) (string, bool) {
	var env struct {
		Choices []struct {
			Delta struct {
				Content *string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", false
	}
	if len(env.Choices) == 0 || env.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *env.Choices[0].Delta.Content, true
}

// setDeltaContent rewrites choices[0].delta.content in place within an
// arbitrary streaming-chunk JSON object, leaving every other field as-is.
func setDeltaContent(payload, content string) (string, error) {
	var env map[string]any
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", err
	}
	choices, ok := env["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", errNoChoices
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", errNoChoices
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		delta = map[string]any{}
		choice["delta"] = delta
	}
	delta["content"] = content
	out, merr := json.Marshal(env)
	if merr != nil {
		return "", merr
	}
	return string(out), nil
}
