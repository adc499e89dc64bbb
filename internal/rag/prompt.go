package rag

import (
	"fmt"
	"strings"

	"ragcore/internal/llmclient"
)

// buildMessages implements build_rag_messages (spec §4.9.1 step 6):
// deep-reasoning-family models get a single user message packing the system
// instruction, an optional reference block, and the question; every other
// model gets a conventional system + history + user layout.
func (o *Orchestrator) buildMessages(p Params, docs []Doc) []llmclient.Message {
	systemPrompt := ""
	if o.Prompts != nil {
		systemPrompt = o.Prompts.GetSystemPrompt(p.CollectionName, p.ReasoningLevel, p.ModelKey)
	}

	if llmclient.IsDeepReasoning(p.ModelKey) {
		var b strings.Builder
		b.WriteString(systemPrompt)
		if len(docs) > 0 {
			b.WriteString("\n\n[참고 문서]\n")
			b.WriteString(referenceBlock(docs))
		}
		b.WriteString("\n\n")
		b.WriteString(p.Query)
		return []llmclient.Message{{Role: "user", Content: b.String()}}
	}

	messages := make([]llmclient.Message, 0, len(p.ChatHistory)+2)
	messages = append(messages, llmclient.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, p.ChatHistory...)

	userContent := p.Query
	if len(docs) > 0 {
		userContent = fmt.Sprintf("[참고 문서]\n%s\n\n%s", referenceBlock(docs), p.Query)
	}
	messages = append(messages, llmclient.Message{Role: "user", Content: userContent})
	return messages
}

// referenceBlock formats retrieved docs for inline inclusion. headings with
// length >= 2 contribute a "section > subsection" label, length 1
// contributes just the section, and length 0 falls back to the filename
// alone (spec §4.9.1 reference formatting rules).
func referenceBlock(docs []Doc) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, referenceLabel(d), d.text())
	}
	return b.String()
}

func referenceLabel(d Doc) string {
	h := d.headings()
	switch {
	case len(h) >= 2:
		return fmt.Sprintf("%s (%s > %s)", d.filename(), h[0], h[1])
	case len(h) == 1:
		return fmt.Sprintf("%s (%s)", d.filename(), h[0])
	default:
		return d.filename()
	}
}
