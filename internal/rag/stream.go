package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"ragcore/internal/citations"
)

// stageEvent carries the "type" discriminator spec §4.9.2 requires so
// clients can tell a stage marker apart from a sources/error event.
type stageEvent struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
}

func stage(name string) stageEvent {
	return stageEvent{Type: "stage", Stage: name}
}

type errorPayload struct {
	Error string `json:"error"`
}

type sourcesPayload struct {
	Sources []sourceDoc `json:"sources"`
}

type sourcesUpdatePayload struct {
	SourcesUpdate []sourceDoc `json:"sources_update"`
}

type sourceDoc struct {
	ID               string   `json:"id"`
	Score            float64  `json:"score"`
	SourceCollection string   `json:"source_collection,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	CitedPhrases     []string `json:"cited_phrases,omitempty"`
}

func toSourceDocs(docs []Doc) []sourceDoc {
	out := make([]sourceDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, sourceDoc{
			ID: d.ID, Score: d.Score, SourceCollection: d.SourceCollection,
			Keywords: d.Keywords, CitedPhrases: d.CitedPhrases,
		})
	}
	return out
}

// ChatStream implements spec §4.9.2: emits stage markers, exactly one
// sources event before any token, raw token deltas (preserving "[DONE]"),
// and a trailing sources_update event if citations were found. On any
// mid-stream failure it emits a single error line instead of propagating,
// matching the "logging and scheduler components never rethrow... inside
// streaming, errors become a final SSE line" policy (spec §7).
func (o *Orchestrator) ChatStream(ctx context.Context, p Params, out chan<- string) {
	defer close(out)

	emit := func(line string) bool {
		select {
		case out <- line:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// emitJSON frames every meta event as a proper SSE "data: {json}" line,
	// matching the framing llmclient.ChatStream already uses for token
	// deltas (spec §6 "text/event-stream"; ground truth rag_service.py
	// wraps every event, stage markers included, the same way).
	emitJSON := func(v any) bool {
		b, err := json.Marshal(v)
		if err != nil {
			return emit("data: " + fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		return emit("data: " + string(b))
	}

	targets := targetCollections(p)
	casual := len(targets) == 0

	if !casual {
		if !emitJSON(stage("analyze")) {
			return
		}
	}

	var docs []Doc
	if !casual {
		if !emitJSON(stage("search")) {
			return
		}
		initialK := p.TopK
		if o.Rerank.Enabled && p.UseReranking {
			mult := o.Rerank.TopKMultiplier
			if mult <= 0 {
				mult = 3
			}
			initialK = p.TopK * mult
		}
		var err error
		docs, err = o.retrieve(ctx, targets, p, initialK)
		if err != nil {
			emitJSON(errorPayload{Error: err.Error()})
			return
		}

		if len(docs) == 0 {
			emitJSON(errorPayload{Error: noDocsMessage})
			emit("data: [DONE]")
			return
		}

		if o.Rerank.Enabled && p.UseReranking && o.Reranker != nil {
			if !emitJSON(stage("rerank")) {
				return
			}
			docs = o.rerank(ctx, p.Query, docs, p.TopK)
		}
		if len(docs) > p.TopK {
			docs = docs[:p.TopK]
		}
		if o.CiteEnabled {
			o.attachKeywords(p.Query, docs)
		}

		// Casual mode emits no sources event at all (spec §8 boundary
		// behaviors); retrieval-required mode emits exactly one before the
		// first token once retrieval has found documents (an empty
		// retrieval ends the stream above with an error event instead).
		if !emitJSON(sourcesPayload{Sources: toSourceDocs(docs)}) {
			return
		}
	}

	if !emitJSON(stage("generate")) {
		return
	}

	messages := o.buildMessages(p, docs)
	tokens := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.LLM.ChatStream(ctx, p.ModelKey, messages, p.SamplingParams, tokens)
	}()

	var answer []byte
	for line := range tokens {
		answer = append(answer, extractTokenText(line)...)
		if !emit(line) {
			return
		}
	}
	if err := <-errCh; err != nil {
		emitJSON(errorPayload{Error: err.Error()})
		return
	}

	if o.CiteEnabled && len(docs) > 0 {
		full := string(answer)
		changed := false
		for i := range docs {
			docs[i].CitedPhrases = citations.ExtractCitations(full, docs[i].text())
			if len(docs[i].CitedPhrases) > 0 {
				changed = true
			}
		}
		if changed {
			emitJSON(sourcesUpdatePayload{SourcesUpdate: toSourceDocs(docs)})
		}
	}
}

// extractTokenText pulls the delta content out of a raw "data: {...}" SSE
// line for citation accumulation, tolerating the "[DONE]" sentinel and any
// line that doesn't carry a recognizable delta shape.
func extractTokenText(line string) string {
	const prefix = "data: "
	if len(line) <= len(prefix) {
		return ""
	}
	payload := line[len(prefix):]
	if payload == "[DONE]" {
		return ""
	}
	var parsed struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Delta.Content
}
