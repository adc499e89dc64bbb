package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddAndRemove(t *testing.T) {
	s := New(context.Background())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("* * * * *", Job{
		Name: "test-job",
		Run: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}))
	s.Start()
	defer s.Stop()

	// Don't wait for a real minute boundary in a unit test; just exercise
	// Remove and confirm it doesn't panic when called twice.
	s.Remove("test-job")
	s.Remove("test-job")
	assert.NotPanics(t, func() { s.Remove("does-not-exist") })

	select {
	case <-ran:
	case <-time.After(10 * time.Millisecond):
	}
}
