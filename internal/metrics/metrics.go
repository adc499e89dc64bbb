// Package metrics exports C9's GenAI token usage and operation latency via
// OpenTelemetry, following the pack's o11y/meter.go instrument-registration
// shape: a package-level meter, instruments built once in init(), and small
// recording functions callers invoke without touching the metric API
// directly.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("ragcore/internal/rag")

var (
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	turnDuration metric.Float64Histogram
	retrieved    metric.Int64Histogram

	once    sync.Once
	initErr error
)

func init() {
	once.Do(func() {
		var err error
		inputTokens, err = meter.Int64Counter("gen_ai.client.token.usage",
			metric.WithDescription("prompt tokens consumed per chat turn"),
			metric.WithUnit("{token}"))
		if err != nil {
			initErr = err
			return
		}
		outputTokens, err = meter.Int64Counter("gen_ai.client.token.usage.output",
			metric.WithDescription("completion tokens produced per chat turn"),
			metric.WithUnit("{token}"))
		if err != nil {
			initErr = err
			return
		}
		turnDuration, err = meter.Float64Histogram("rag.turn.duration",
			metric.WithDescription("end-to-end duration of a chat/chat_stream turn"),
			metric.WithUnit("ms"))
		if err != nil {
			initErr = err
			return
		}
		retrieved, err = meter.Int64Histogram("rag.retrieved_docs",
			metric.WithDescription("documents retained after retrieval and reranking"),
			metric.WithUnit("{document}"))
		if err != nil {
			initErr = err
			return
		}
	})
}

// TokenUsage records prompt/completion token counts for one turn, tagged by
// the model key the request used.
func TokenUsage(ctx context.Context, modelKey string, promptTokens, completionTokens int) {
	if initErr != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", modelKey))
	inputTokens.Add(ctx, int64(promptTokens), attrs)
	outputTokens.Add(ctx, int64(completionTokens), attrs)
}

// TurnDuration records how long a chat turn took, tagged by mode (casual vs.
// retrieval-required) so the two paths' latency distributions stay separate.
func TurnDuration(ctx context.Context, mode string, ms float64) {
	if initErr != nil {
		return
	}
	turnDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("mode", mode)))
}

// RetrievedDocCount records how many documents survived retrieval/reranking
// for a retrieval-required turn.
func RetrievedDocCount(ctx context.Context, n int) {
	if initErr != nil {
		return
	}
	retrieved.Record(ctx, int64(n))
}
