package metrics

import (
	"context"
	"testing"
)

// The global OTel meter provider defaults to a no-op implementation when the
// process never configures one (as in tests), so these calls only need to
// not panic on the attribute/instrument plumbing.
func TestRecorders_DoNotPanicWithoutConfiguredProvider(t *testing.T) {
	ctx := context.Background()
	TokenUsage(ctx, "gpt-4o-mini", 120, 40)
	TurnDuration(ctx, "retrieval", 842.5)
	RetrievedDocCount(ctx, 5)
}
