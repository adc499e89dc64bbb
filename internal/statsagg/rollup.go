// Package statsagg implements C11: chunked JSONL reads over logpipeline's
// daily shards, per-collection percentile rollups, and upsert into Postgres,
// following the teacher's pgx/pgxpool "ON CONFLICT ... DO UPDATE" idiom seen
// across internal/persistence/databases.
package statsagg

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ragcore/internal/kst"
)

// AllCollections is the synthetic cross-collection rollup name (spec §3).
const AllCollections = "ALL"

// logLine is the subset of logpipeline.InteractionRecord this package reads;
// kept independent of logpipeline to avoid a hard package dependency for a
// purely read-side concern.
type logLine struct {
	CollectionName string `json:"collection_name"`
	MessageType    string `json:"message_type"`
	MessageContent string `json:"message_content"`
	Performance    *struct {
		ResponseTimeMs int64 `json:"response_time_ms"`
		TokenCount     int   `json:"token_count"`
	} `json:"performance"`
	RetrievalInfo *struct {
		TopScores     []float64 `json:"top_scores"`
		RerankingUsed *bool     `json:"reranking_used"`
	} `json:"retrieval_info"`
	LLMModel       string `json:"llm_model"`
	ReasoningLevel string `json:"reasoning_level"`
	CreatedAt      string `json:"created_at"`
}

// Rollup is one (collection, date[, hour]) statistic row (spec §3).
type Rollup struct {
	Collection        string
	Date              string
	Hour              *int
	UserMessageCount  int
	AssistantMessageCount int
	P50               float64
	P95               float64
	P99               float64
	Max               float64
	TokenSum          int64
	RetrievalScoreMean float64
	TopQueries        []QueryCount
	ModelUsage        map[string]int
	ReasoningUsage    map[string]int
	RerankingUsageCount int
}

// QueryCount is one entry of the top-N query counter.
type QueryCount struct {
	Query string
	Count int
}

// shardPath mirrors logpipeline's layout: logs/data/YYYY/MM/YYYY-MM-DD.jsonl.
func shardPath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, fmt.Sprintf("%04d", date.Year()), fmt.Sprintf("%02d", date.Month()), kst.DateString(date)+".jsonl")
}

// locateShard tries the plain, gzip, and legacy flat paths in that order
// (spec §4.11.1 step 1).
func locateShard(dataDir string, date time.Time) (path string, gz bool, ok bool) {
	plain := shardPath(dataDir, date)
	if _, err := os.Stat(plain); err == nil {
		return plain, false, true
	}
	if _, err := os.Stat(plain + ".gz"); err == nil {
		return plain + ".gz", true, true
	}
	legacy := filepath.Join(dataDir, kst.DateString(date)+".jsonl")
	if _, err := os.Stat(legacy); err == nil {
		return legacy, false, true
	}
	return "", false, false
}

// ErrNoData is returned when no shard exists for the requested date.
var ErrNoData = fmt.Errorf("statsagg: no_data")

// readShard streams every line of the shard for date, calling visit per
// record. chunkSize is accepted but not read: records are not grouped into
// batches, and every line is decoded and visited one at a time in a single
// streaming pass, so memory use does not grow with the shard size.
func readShard(dataDir string, date time.Time, chunkSize int, visit func(logLine)) error {
	path, gz, ok := locateShard(dataDir, date)
	if !ok {
		return ErrNoData
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("statsagg: open shard: %w", err)
	}
	defer f.Close()

	var scanner *bufio.Scanner
	if gz {
		r, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("statsagg: gzip reader: %w", err)
		}
		defer r.Close()
		scanner = bufio.NewScanner(r)
	} else {
		scanner = bufio.NewScanner(f)
	}
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		visit(normalizeCreatedAt(rec))
	}
	return scanner.Err()
}

// normalizeCreatedAt converts a tz-aware created_at to KST and drops the
// offset; a naive timestamp is assumed already KST (spec §4.11.1 step 2).
func normalizeCreatedAt(rec logLine) logLine {
	t, err := kst.ParseNaive(rec.CreatedAt)
	if err == nil {
		rec.CreatedAt = kst.FormatNaive(t)
	}
	return rec
}

// Aggregate computes per-collection rollups (plus the synthetic ALL rollup)
// for one day's shard (spec §4.11.1 step 3).
func Aggregate(dataDir string, date time.Time, chunkSize int) (map[string]Rollup, error) {
	type collector struct {
		userCount      int
		assistantCount int
		responseTimes  []float64
		tokenSum       int64
		scores         []float64
		queries        map[string]int
		models         map[string]int
		reasoning      map[string]int
		reranking      int
	}
	newCollector := func() *collector {
		return &collector{queries: map[string]int{}, models: map[string]int{}, reasoning: map[string]int{}}
	}

	collectors := map[string]*collector{AllCollections: newCollector()}
	get := func(name string) *collector {
		c, ok := collectors[name]
		if !ok {
			c = newCollector()
			collectors[name] = c
		}
		return c
	}

	err := readShard(dataDir, date, chunkSize, func(rec logLine) {
		if rec.CollectionName == "" {
			return
		}
		targets := []*collector{get(rec.CollectionName), collectors[AllCollections]}

		switch rec.MessageType {
		case "user":
			for _, c := range targets {
				c.userCount++
				c.queries[rec.MessageContent]++
			}
		case "assistant":
			for _, c := range targets {
				c.assistantCount++
				if rec.Performance != nil {
					if rec.Performance.ResponseTimeMs > 0 {
						c.responseTimes = append(c.responseTimes, float64(rec.Performance.ResponseTimeMs))
					}
					c.tokenSum += int64(rec.Performance.TokenCount)
				}
				if rec.RetrievalInfo != nil {
					c.scores = append(c.scores, rec.RetrievalInfo.TopScores...)
					if rec.RetrievalInfo.RerankingUsed != nil && *rec.RetrievalInfo.RerankingUsed {
						c.reranking++
					}
				}
				if rec.LLMModel != "" {
					c.models[rec.LLMModel]++
				}
				if rec.ReasoningLevel != "" {
					c.reasoning[rec.ReasoningLevel]++
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Rollup, len(collectors))
	for name, c := range collectors {
		p50, p95, p99, max := percentiles(c.responseTimes)
		out[name] = Rollup{
			Collection:            name,
			Date:                  kst.DateString(date),
			UserMessageCount:      c.userCount,
			AssistantMessageCount: c.assistantCount,
			P50:                   p50,
			P95:                   p95,
			P99:                   p99,
			Max:                   max,
			TokenSum:              c.tokenSum,
			RetrievalScoreMean:    mean(c.scores),
			TopQueries:            topN(c.queries, 10),
			ModelUsage:            c.models,
			ReasoningUsage:        c.reasoning,
			RerankingUsageCount:   c.reranking,
		}
	}
	return out, nil
}

// percentiles computes p50/p95/p99/max using linear interpolation over the
// sorted series (spec §8 Scenario D: p50=350 for [100, 200, 300, 400, 500,
// 1000]).
func percentiles(values []float64) (p50, p95, p99, max float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileAt(sorted, 0.50), percentileAt(sorted, 0.95), percentileAt(sorted, 0.99), sorted[len(sorted)-1]
}

func percentileAt(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func topN(counts map[string]int, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
