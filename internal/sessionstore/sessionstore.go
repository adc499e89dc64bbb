// Package sessionstore implements the relational half of C10: upserting
// chat_sessions rows from the running SessionUpdate diffs the logging
// pipeline batches, grounded on statsagg's pgxpool upsert pattern (spec
// §3 "Session state", §4.10).
package sessionstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/kst"
	"ragcore/internal/logpipeline"
)

// Store upserts chat_sessions rows, maintaining the running aggregates
// (message_count, avg_response_time_ms, min_retrieval_score) spec §3
// describes as invariants of the session-state row.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const upsertSessionSQL = `
INSERT INTO chat_sessions (
	session_id, collection_name, started_at, ended_at,
	message_count, user_message_count, assistant_message_count,
	total_response_time_ms, avg_response_time_ms, has_error,
	min_retrieval_score, llm_model, reasoning_level
) VALUES ($1, $2, $3, $3, $4, $5, $5, $6, $6, $7, $8, $9, $10)
ON CONFLICT (session_id) DO UPDATE SET
	ended_at = $3,
	message_count = chat_sessions.message_count + $4,
	user_message_count = chat_sessions.user_message_count + $5,
	assistant_message_count = chat_sessions.assistant_message_count + $5,
	total_response_time_ms = chat_sessions.total_response_time_ms + $6,
	avg_response_time_ms = (chat_sessions.total_response_time_ms + $6) / GREATEST(1, chat_sessions.assistant_message_count + $5),
	has_error = chat_sessions.has_error OR $7,
	min_retrieval_score = LEAST(COALESCE(chat_sessions.min_retrieval_score, $8), COALESCE($8, chat_sessions.min_retrieval_score)),
	llm_model = $9,
	reasoning_level = $10
`

// ApplySessionUpdate satisfies logpipeline.SessionSink. DeltaMessages is
// split evenly across user/assistant counters since every hand-off writes
// exactly one of each (spec §3 session invariant).
func (s *Store) ApplySessionUpdate(u logpipeline.SessionUpdate) error {
	turnCount := u.DeltaMessages / 2
	if turnCount < 1 {
		turnCount = 1
	}
	minScore := runningMin(u.TopScores)
	_, err := s.pool.Exec(context.Background(), upsertSessionSQL,
		u.SessionID, u.CollectionName, kst.Now(),
		u.DeltaMessages, turnCount, u.ResponseTimeMs,
		u.HasError, minScore, u.LLMModel, u.ReasoningLevel,
	)
	if err != nil {
		return fmt.Errorf("sessionstore: upsert session: %w", err)
	}
	return nil
}

func runningMin(scores []float64) *float64 {
	if len(scores) == 0 {
		return nil
	}
	min := scores[0]
	for _, v := range scores[1:] {
		if v < min {
			min = v
		}
	}
	return &min
}
