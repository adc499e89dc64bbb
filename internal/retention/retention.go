// Package retention implements the shared compress-then-delete policy used
// by C12's log_cleanup/conversation_cleanup jobs over both C10's daily
// shards and C13's conversation archive (spec §4.10, §4.12, §4.13).
package retention

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ragcore/internal/kst"
)

// Policy compresses .jsonl files under Dir into .jsonl.gz
// (CompressOlderThan) and deletes files, plain or gzipped (DeleteOlderThan),
// whose modification time is older than the days argument of each call.
// Neither method reads CompressAfterDays or RetentionDays.
type Policy struct {
	Dir               string
	CompressAfterDays int
	RetentionDays     int
}

func (p Policy) CompressOlderThan(days int) error {
	cutoff := kst.Now().AddDate(0, 0, -days)
	return filepath.Walk(p.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		return compressFile(path)
	})
}

func (p Policy) DeleteOlderThan(days int) error {
	cutoff := kst.Now().AddDate(0, 0, -days)
	return filepath.Walk(p.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".jsonl") && !strings.HasSuffix(path, ".jsonl.gz") {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		return os.Remove(path)
	})
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("retention: open %s: %w", path, err)
	}
	defer in.Close()

	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return fmt.Errorf("retention: create %s: %w", gzPath, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		os.Remove(gzPath)
		return fmt.Errorf("retention: compress %s: %w", path, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("retention: finalize %s: %w", gzPath, err)
	}
	return os.Remove(path)
}
