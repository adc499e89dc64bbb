// Package convstore implements C13: in-memory per-conversation turn
// accumulation, the sampling policy on end_conversation, and sharded JSONL
// archival, mirroring logpipeline's shard-by-KST-date layout.
package convstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ragcore/internal/kst"
)

// Message is one turn within a conversation.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
	HasError  bool
	Score     *float64 // top retrieval score for this turn, if any
	Regenerated bool
}

type conversation struct {
	id        string
	startedAt time.Time
	messages  []Message
}

// Record is one archived conversation line (spec §4.13).
type Record struct {
	ConversationID    string  `json:"conversation_id"`
	TotalTurns        int     `json:"total_turns"`
	HasError          bool    `json:"has_error"`
	HasRegeneration   bool    `json:"has_regeneration"`
	MinRetrievalScore *float64 `json:"min_retrieval_score,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds"`
	IsSampled         bool    `json:"is_sampled"`
	RetentionPriority string  `json:"retention_priority"`
	Summary           string  `json:"summary"`
	CreatedAt         string  `json:"created_at"`
}

// Store accumulates active conversations and archives them on end.
type Store struct {
	mu            sync.Mutex
	active        map[string]*conversation
	dir           string
	sampleRate    float64
	rng           *rand.Rand
}

// New builds a Store writing archived conversations under dir
// (logs/conversations/YYYY/MM/YYYY-MM-DD.jsonl), sampling non-notable
// conversations at sampleRate (spec §4.13).
func New(dir string, sampleRate float64) *Store {
	return &Store{
		active:     map[string]*conversation{},
		dir:        dir,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// AddMessage appends msg to conversationID's in-memory turn log, creating
// the conversation on its first message.
func (s *Store) AddMessage(conversationID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.active[conversationID]
	if !ok {
		c = &conversation{id: conversationID, startedAt: msg.Timestamp}
		s.active[conversationID] = c
	}
	c.messages = append(c.messages, msg)
}

// EndConversation finalizes conversationID, applies the sampling policy, and
// if persisted, appends one archive line. It returns whether the
// conversation was persisted and the computed Record (useful for tests and
// for callers wanting the retention_priority without re-deriving it).
func (s *Store) EndConversation(conversationID string, endedAt time.Time) (bool, Record, error) {
	s.mu.Lock()
	c, ok := s.active[conversationID]
	if ok {
		delete(s.active, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return false, Record{}, nil
	}

	rec := buildRecord(c, endedAt)
	if !s.shouldPersist(rec) {
		return false, rec, nil
	}
	rec.IsSampled = true
	if err := s.append(rec, endedAt); err != nil {
		return false, rec, err
	}
	return true, rec, nil
}

func buildRecord(c *conversation, endedAt time.Time) Record {
	var minScore *float64
	hasError := false
	hasRegen := false
	var firstUserMessage string
	for _, m := range c.messages {
		if m.HasError {
			hasError = true
		}
		if m.Regenerated {
			hasRegen = true
		}
		if m.Score != nil && (minScore == nil || *m.Score < *minScore) {
			minScore = m.Score
		}
		if firstUserMessage == "" && m.Role == "user" {
			firstUserMessage = m.Content
		}
	}

	return Record{
		ConversationID:    c.id,
		TotalTurns:        len(c.messages),
		HasError:          hasError,
		HasRegeneration:   hasRegen,
		MinRetrievalScore: minScore,
		DurationSeconds:   endedAt.Sub(c.startedAt).Seconds(),
		RetentionPriority: retentionPriority(hasError, hasRegen, len(c.messages), minScore),
		Summary:           truncateSummary(firstUserMessage, 100),
		CreatedAt:         kst.FormatNaive(kst.Normalize(endedAt)),
	}
}

// shouldPersist implements the sampling policy (spec §4.13): always persist
// notable conversations, otherwise sample at sampleRate.
func (s *Store) shouldPersist(rec Record) bool {
	if rec.HasError || rec.HasRegeneration || rec.TotalTurns >= 5 {
		return true
	}
	if rec.MinRetrievalScore != nil && *rec.MinRetrievalScore < 0.5 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.sampleRate
}

// retentionPriority implements spec §4.13's priority policy: high if error
// or min_score < 0.3 or regen or >=5 turns; medium if >=3 turns or min_score
// < 0.5; low otherwise.
func retentionPriority(hasError, hasRegen bool, turns int, minScore *float64) string {
	lowScore := minScore != nil && *minScore < 0.3
	midScore := minScore != nil && *minScore < 0.5
	if hasError || hasRegen || turns >= 5 || lowScore {
		return "high"
	}
	if turns >= 3 || midScore {
		return "medium"
	}
	return "low"
}

// truncateSummary cuts s to at most n runes, never splitting inside a
// multi-byte rune.
func truncateSummary(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (s *Store) shardPath(t time.Time) string {
	t = kst.Normalize(t)
	return filepath.Join(s.dir, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", t.Month()), kst.DateString(t)+".jsonl")
}

func (s *Store) append(rec Record, at time.Time) error {
	path := s.shardPath(at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("convstore: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("convstore: open shard: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("convstore: marshal record: %w", err)
	}
	w := bufio.NewWriter(f)
	w.Write(line)
	w.WriteByte('\n')
	return w.Flush()
}
