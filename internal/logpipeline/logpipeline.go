// Package logpipeline implements C10: two bounded queues drained by
// batching workers, with overflow and emergency write paths, following the
// teacher's internal/orchestrator/kafka.go worker-pool / graceful-drain
// channel pattern (segmentio/kafka-go itself is not used — there is no
// message broker in this spec, only the in-process pattern is reused).
package logpipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"ragcore/internal/kst"
	"ragcore/internal/logging"
)

// InteractionRecord is one JSONL line written to a daily shard (spec §3).
type InteractionRecord struct {
	LogID          string         `json:"log_id"`
	SessionID      string         `json:"session_id"`
	CollectionName string         `json:"collection_name"`
	MessageType    string         `json:"message_type"`
	MessageContent string         `json:"message_content"`
	ReasoningLevel string         `json:"reasoning_level,omitempty"`
	LLMModel       string         `json:"llm_model,omitempty"`
	LLMParams      map[string]any `json:"llm_params,omitempty"`
	RetrievalInfo  *RetrievalInfo `json:"retrieval_info,omitempty"`
	Performance    *Performance   `json:"performance,omitempty"`
	ErrorInfo      map[string]any `json:"error_info,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type RetrievalInfo struct {
	RetrievedCount  int       `json:"retrieved_count"`
	TopScores       []float64 `json:"top_scores,omitempty"`
	RetrievalTimeMs *int64    `json:"retrieval_time_ms,omitempty"`
	RerankingUsed   *bool     `json:"reranking_used,omitempty"`
}

type Performance struct {
	ResponseTimeMs  int64  `json:"response_time_ms"`
	TokenCount      int    `json:"token_count"`
	RetrievalTimeMs *int64 `json:"retrieval_time_ms,omitempty"`
}

// SessionUpdate is one session-state diff enqueued alongside a record pair
// (spec §4.9.4).
type SessionUpdate struct {
	SessionID       string
	CollectionName  string
	DeltaMessages   int
	ResponseTimeMs  int64
	TopScores       []float64
	HasError        bool
	LLMModel        string
	ReasoningLevel  string
}

// SessionSink upserts session rows; implemented by the relational store
// layer (kept out of this package to avoid a hard Postgres dependency in
// tests — see internal/sessionstore for the pgx-backed implementation).
type SessionSink interface {
	ApplySessionUpdate(u SessionUpdate) error
}

// Config controls queue capacities, batch sizes, and file locations (spec
// §4.10).
type Config struct {
	LogQueueCapacity     int
	SessionQueueCapacity int
	LogBatchSize         int
	SessionBatchSize     int
	FlushInterval        time.Duration
	DataDir              string
	OverflowDir          string
}

func (c Config) withDefaults() Config {
	if c.LogQueueCapacity <= 0 {
		c.LogQueueCapacity = 1000
	}
	if c.SessionQueueCapacity <= 0 {
		c.SessionQueueCapacity = 500
	}
	if c.LogBatchSize <= 0 {
		c.LogBatchSize = 100
	}
	if c.SessionBatchSize <= 0 {
		c.SessionBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "logs/data"
	}
	if c.OverflowDir == "" {
		c.OverflowDir = "logs/overflow"
	}
	return c
}

// Stats mirrors spec §4.10's statistics surface.
type Stats struct {
	LogQueueSize        int
	LogQueueCapacity    int
	SessionQueueSize     int
	SessionQueueCapacity int
	Dropped              int64
	Overflow              int64
	SessionUpdated        int64
	SessionErrors         int64
	Running               bool
}

// Pipeline runs the log batcher and session batcher goroutines described in
// spec §4.10.
type Pipeline struct {
	cfg Config

	logQ     chan InteractionRecord
	sessionQ chan SessionUpdate

	sessions SessionSink

	dropped       atomic.Int64
	overflow      atomic.Int64
	sessionUpdated atomic.Int64
	sessionErrors  atomic.Int64
	running        atomic.Bool

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Pipeline. sessions may be nil in tests that only exercise the
// log-batching path.
func New(cfg Config, sessions SessionSink) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		logQ:     make(chan InteractionRecord, cfg.LogQueueCapacity),
		sessionQ: make(chan SessionUpdate, cfg.SessionQueueCapacity),
		sessions: sessions,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the log batcher and session batcher as cooperative
// goroutines.
func (p *Pipeline) Start() {
	p.running.Store(true)
	p.wg.Add(2)
	go p.runLogBatcher()
	go p.runSessionBatcher()
}

// Stop cancels both workers and drains any already-collected partial batch
// before returning (spec §4.10).
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.running.Store(false)
}

// EnqueueLog implements put_nowait for the log queue: on a full queue, spill
// to the overflow file and count it rather than blocking the caller (spec
// §4.9.4, §5). A queue past 80% usage logs a back-pressure warning so an
// operator can see the spill coming before it happens.
func (p *Pipeline) EnqueueLog(rec InteractionRecord) {
	select {
	case p.logQ <- rec:
		warnIfNearCapacity("log", p.logQ)
	default:
		p.spillOverflow(rec)
	}
}

// EnqueueSessionUpdate implements put_nowait for the session queue.
func (p *Pipeline) EnqueueSessionUpdate(u SessionUpdate) {
	select {
	case p.sessionQ <- u:
		warnIfNearCapacity("session", p.sessionQ)
	default:
		p.dropped.Add(1)
		logging.Log.Warnf("logpipeline: session queue full, dropping update for session %s", u.SessionID)
	}
}

// warnIfNearCapacity logs once a queue crosses 80% usage (spec §4.10/§5
// back-pressure warning threshold).
func warnIfNearCapacity[T any](name string, q chan T) {
	capacity := cap(q)
	if capacity == 0 {
		return
	}
	if float64(len(q))/float64(capacity) > 0.8 {
		logging.Log.Warnf("logpipeline: %s queue at %d/%d (>80%%), approaching capacity", name, len(q), capacity)
	}
}

// Flush forces both queues to empty synchronously by waiting until they
// report zero length. Intended for graceful shutdown paths where Stop()
// isn't appropriate because workers must keep running afterward.
func (p *Pipeline) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(p.logQ) == 0 && len(p.sessionQ) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		LogQueueSize:         len(p.logQ),
		LogQueueCapacity:     cap(p.logQ),
		SessionQueueSize:     len(p.sessionQ),
		SessionQueueCapacity: cap(p.sessionQ),
		Dropped:              p.dropped.Load(),
		Overflow:             p.overflow.Load(),
		SessionUpdated:       p.sessionUpdated.Load(),
		SessionErrors:        p.sessionErrors.Load(),
		Running:              p.running.Load(),
	}
}

func (p *Pipeline) runLogBatcher() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []InteractionRecord
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writeShard(batch); err != nil {
			p.emergencyDump(batch, err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-p.logQ:
			batch = append(batch, rec)
			if len(batch) >= p.cfg.LogBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.stopCh:
			p.drainLogQueue(&batch)
			flush()
			return
		}
	}
}

func (p *Pipeline) drainLogQueue(batch *[]InteractionRecord) {
	for {
		select {
		case rec := <-p.logQ:
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}

func (p *Pipeline) runSessionBatcher() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []SessionUpdate
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.applySessionBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case u := <-p.sessionQ:
			batch = append(batch, u)
			if len(batch) >= p.cfg.SessionBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.stopCh:
			p.drainSessionQueue(&batch)
			flush()
			return
		}
	}
}

func (p *Pipeline) drainSessionQueue(batch *[]SessionUpdate) {
	for {
		select {
		case u := <-p.sessionQ:
			*batch = append(*batch, u)
		default:
			return
		}
	}
}

func (p *Pipeline) applySessionBatch(batch []SessionUpdate) {
	if p.sessions == nil {
		p.sessionUpdated.Add(int64(len(batch)))
		return
	}
	for _, u := range batch {
		if err := p.sessions.ApplySessionUpdate(u); err != nil {
			p.sessionErrors.Add(1)
			logging.Log.Errorf("logpipeline: session update failed for %s: %v", u.SessionID, err)
			continue
		}
		p.sessionUpdated.Add(1)
	}
}

// shardPath returns logs/data/YYYY/MM/YYYY-MM-DD.jsonl for today in KST.
func (p *Pipeline) shardPath(t time.Time) string {
	t = kst.Normalize(t)
	return filepath.Join(p.cfg.DataDir, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), kst.DateString(t)+".jsonl")
}

func (p *Pipeline) writeShard(batch []InteractionRecord) error {
	path := p.shardPath(kst.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logpipeline: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logpipeline: open shard: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("logpipeline: write line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("logpipeline: write newline: %w", err)
		}
	}
	return w.Flush()
}

func (p *Pipeline) spillOverflow(rec InteractionRecord) {
	p.overflow.Add(1)
	path := filepath.Join(p.cfg.OverflowDir, fmt.Sprintf("overflow_%s.jsonl", kst.DateString(kst.Now())))
	if err := os.MkdirAll(p.cfg.OverflowDir, 0o755); err != nil {
		logging.Log.Errorf("logpipeline: overflow mkdir: %v", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Log.Errorf("logpipeline: overflow open: %v", err)
		return
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		logging.Log.Errorf("logpipeline: overflow write: %v", err)
	}
}

// emergencyDump attempts a one-shot write to logs/data/emergency_*.jsonl
// when the normal shard write fails; a double failure logs critical and
// drops the batch (spec §4.10).
func (p *Pipeline) emergencyDump(batch []InteractionRecord, writeErr error) {
	logging.Log.Errorf("logpipeline: shard write failed, attempting emergency dump: %v", writeErr)
	path := filepath.Join(p.cfg.DataDir, fmt.Sprintf("emergency_%s.jsonl", kst.Now().Format("20060102_150405")))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.dropped.Add(int64(len(batch)))
		logging.Log.Errorf("logpipeline: emergency dump failed, dropping %d records: %v", len(batch), err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		p.dropped.Add(int64(len(batch)))
		logging.Log.Errorf("logpipeline: emergency dump failed, dropping %d records: %v", len(batch), err)
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, rec := range batch {
		line, merr := json.Marshal(rec)
		if merr != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		p.dropped.Add(int64(len(batch)))
		logging.Log.Errorf("logpipeline: emergency dump flush failed, dropping %d records: %v", len(batch), err)
	}
}
