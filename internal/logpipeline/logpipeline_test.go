package logpipeline

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_FlushWritesBatchToShard(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		LogQueueCapacity: 10,
		LogBatchSize:     2,
		FlushInterval:    50 * time.Millisecond,
		DataDir:          filepath.Join(dir, "data"),
		OverflowDir:      filepath.Join(dir, "overflow"),
	}
	p := New(cfg, nil)
	p.Start()
	defer p.Stop()

	p.EnqueueLog(InteractionRecord{LogID: "1", SessionID: "s1", MessageType: "user"})
	p.EnqueueLog(InteractionRecord{LogID: "2", SessionID: "s1", MessageType: "assistant"})

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(cfg.DataDir)
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			sub, _ := os.ReadDir(filepath.Join(cfg.DataDir, e.Name()))
			for _, s := range sub {
				if !s.IsDir() {
					continue
				}
				files, _ := os.ReadDir(filepath.Join(cfg.DataDir, e.Name(), s.Name()))
				if len(files) > 0 {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_EnqueueLog_SpillsToOverflowWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		LogQueueCapacity: 1,
		DataDir:          filepath.Join(dir, "data"),
		OverflowDir:      filepath.Join(dir, "overflow"),
	}
	p := New(cfg, nil)
	// Fill the queue without starting workers so it never drains.
	p.EnqueueLog(InteractionRecord{LogID: "1"})
	p.EnqueueLog(InteractionRecord{LogID: "2"})
	p.EnqueueLog(InteractionRecord{LogID: "3"})

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.Overflow, int64(2))

	entries, err := os.ReadDir(cfg.OverflowDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	f, err := os.Open(filepath.Join(cfg.OverflowDir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	assert.GreaterOrEqual(t, lines, 2)
}
